package classify_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/classify"
)

type ClassifySuite struct {
	suite.Suite
}

func TestClassifySuite(t *testing.T) {
	suite.Run(t, new(ClassifySuite))
}

func (s *ClassifySuite) TestCase_ShouldMapKnownExtensionToMIME() {
	s.Equal("image/jpeg", classify.MIMEForKey("photo.jpg"))
	s.Equal("video/mp4", classify.MIMEForKey("clip.mp4"))
}

func (s *ClassifySuite) TestCase_ShouldLowercaseExtension() {
	s.Equal("image/jpeg", classify.MIMEForKey("PHOTO.JPG"))
}

func (s *ClassifySuite) TestCase_ShouldUseLastDot() {
	s.Equal("application/gzip", classify.MIMEForKey("archive.tar.gz"))
}

func (s *ClassifySuite) TestCase_ShouldFallBackToOctetStreamForUnknown() {
	s.Equal("application/octet-stream", classify.MIMEForKey("file.nope"))
	s.Equal("application/octet-stream", classify.MIMEForKey("noextension"))
}

func (s *ClassifySuite) TestCase_ShouldMapMIMEPrefixesToCategory() {
	s.Equal(object.CategoryImage, classify.CategoryForMIME("image/png"))
	s.Equal(object.CategoryVideo, classify.CategoryForMIME("video/webm"))
	s.Equal(object.CategoryAudio, classify.CategoryForMIME("audio/mpeg"))
	s.Equal(object.CategoryFont, classify.CategoryForMIME("font/woff2"))
}

func (s *ClassifySuite) TestCase_ShouldMapExplicitSets() {
	s.Equal(object.CategoryArchive, classify.CategoryForMIME("application/zip"))
	s.Equal(object.CategoryDocument, classify.CategoryForMIME("application/pdf"))
	s.Equal(object.CategoryStatic, classify.CategoryForMIME("text/html"))
}

func (s *ClassifySuite) TestCase_ShouldMapEverythingElseToBinary() {
	s.Equal(object.CategoryBinary, classify.CategoryForMIME("application/octet-stream"))
	s.Equal(object.CategoryBinary, classify.CategoryForMIME("application/x-unknown"))
}

func (s *ClassifySuite) TestCase_ShouldMapEOTToFontDespiteNoPrefix() {
	s.Equal(object.CategoryFont, classify.CategoryForMIME("application/vnd.ms-fontobject"))
}
