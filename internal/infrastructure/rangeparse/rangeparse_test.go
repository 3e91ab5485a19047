package rangeparse_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/alchemorsel/gateway/internal/infrastructure/rangeparse"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

type RangeParseSuite struct {
	suite.Suite
}

func TestRangeParseSuite(t *testing.T) {
	suite.Run(t, new(RangeParseSuite))
}

func (s *RangeParseSuite) TestCase_ShouldParseExplicitInterval() {
	iv, err := rangeparse.Parse("bytes=0-1023", 4096)
	s.Require().NoError(err)
	s.Equal(int64(0), iv.Start)
	s.Equal(int64(1023), iv.End)
	s.Equal(int64(1024), iv.Len())
}

func (s *RangeParseSuite) TestCase_ShouldDefaultOpenEndToLastByte() {
	iv, err := rangeparse.Parse("bytes=100-", 200)
	s.Require().NoError(err)
	s.Equal(int64(100), iv.Start)
	s.Equal(int64(199), iv.End)
}

func (s *RangeParseSuite) TestCase_ShouldClampEndBeyondSize() {
	iv, err := rangeparse.Parse("bytes=0-999999", 2048)
	s.Require().NoError(err)
	s.Equal(int64(0), iv.Start)
	s.Equal(int64(2047), iv.End)
}

func (s *RangeParseSuite) TestCase_ShouldHandleSuffixRange() {
	iv, err := rangeparse.Parse("bytes=-512", 4096)
	s.Require().NoError(err)
	s.Equal(int64(3584), iv.Start)
	s.Equal(int64(4095), iv.End)
}

func (s *RangeParseSuite) TestCase_ShouldClampSuffixRangeLargerThanSize() {
	iv, err := rangeparse.Parse("bytes=-999999", 4096)
	s.Require().NoError(err)
	s.Equal(int64(0), iv.Start)
	s.Equal(int64(4095), iv.End)
}

func (s *RangeParseSuite) TestCase_ShouldRejectMultiRange() {
	_, err := rangeparse.Parse("bytes=0-10,20-30", 4096)
	s.Require().Error(err)
	s.Equal(apperrors.CodeUnparseableRange, apperrors.GetCode(err))
}

func (s *RangeParseSuite) TestCase_ShouldRejectMalformedSyntax() {
	_, err := rangeparse.Parse("chunks=0-10", 4096)
	s.Require().Error(err)
	s.Equal(apperrors.CodeUnparseableRange, apperrors.GetCode(err))
}

func (s *RangeParseSuite) TestCase_ShouldRejectStartBeyondSize() {
	_, err := rangeparse.Parse("bytes=5000-6000", 4096)
	s.Require().Error(err)
	s.Equal(apperrors.CodeUnsatisfiableRange, apperrors.GetCode(err))
}

func (s *RangeParseSuite) TestCase_ShouldRejectStartAfterEnd() {
	_, err := rangeparse.Parse("bytes=100-50", 4096)
	s.Require().Error(err)
	s.Equal(apperrors.CodeUnsatisfiableRange, apperrors.GetCode(err))
}

func (s *RangeParseSuite) TestCase_ShouldRejectZeroLengthSuffix() {
	_, err := rangeparse.Parse("bytes=-0", 4096)
	s.Require().Error(err)
	s.Equal(apperrors.CodeUnsatisfiableRange, apperrors.GetCode(err))
}
