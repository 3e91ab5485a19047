package purge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/alchemorsel/gateway/internal/infrastructure/purge"
)

type fakeTagPurger struct {
	byTag map[string][]string
}

func (f *fakeTagPurger) Purge(tag string) []string {
	return f.byTag[tag]
}

type PurgerSuite struct {
	suite.Suite
}

func TestPurgerSuite(t *testing.T) {
	suite.Run(t, new(PurgerSuite))
}

func (s *PurgerSuite) TestCase_ShouldReturnZeroWhenNoEntriesMatchTag() {
	p := purge.New(&fakeTagPurger{byTag: map[string][]string{}}, nil, nil)
	count, err := p.PurgeTag(context.Background(), "cdn-type-image")
	s.NoError(err)
	s.Equal(0, count)
}

func (s *PurgerSuite) TestCase_ShouldCountPurgedEntriesWithoutCDN() {
	edge := &fakeTagPurger{byTag: map[string][]string{
		"cdn-type-image": {"https://cdn.example/a.png", "https://cdn.example/b.png"},
	}}
	p := purge.New(edge, nil, nil)
	count, err := p.PurgeTag(context.Background(), "cdn-type-image")
	s.NoError(err)
	s.Equal(2, count)
}
