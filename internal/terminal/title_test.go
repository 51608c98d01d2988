package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractByRegexTakesLastMatch(t *testing.T) {
	html := "<title>first</title><p>x</p><TITLE> Report </TITLE>"
	assert.Equal(t, "Report", htmlTitle([]byte(html)))
}

func TestExtractByRegexNoMatch(t *testing.T) {
	assert.Equal(t, "", htmlTitle([]byte("<p>no title</p>")))
	assert.Equal(t, "", htmlTitle(nil))
	assert.Equal(t, "", extractByRegex("<title>x</title>", nil, 1))
	assert.Equal(t, "", extractByRegex("<title>x</title>", htmlTitleRegex, 5))
}
