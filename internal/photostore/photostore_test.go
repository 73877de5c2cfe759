package photostore

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKey(t *testing.T) {
	a := NewKey("tree", "image/png")
	b := NewKey("tree", "image/png")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "tree_"))
	assert.True(t, strings.HasSuffix(a, ".png"))
	assert.NoError(t, ValidKey(a))
	assert.True(t, strings.HasPrefix(NewKey("", "image/jpeg"), "photo_"))
}

func TestValidKey(t *testing.T) {
	for _, key := range []string{"", "../etc/passwd", "a/b.jpg", `a\b.jpg`, "..", "x..jpg"} {
		err := ValidKey(key)
		assert.True(t, errors.Is(err, ErrInvalidKey), "key %q", key)
	}
	assert.NoError(t, ValidKey("tree_123.jpg"))
}

func TestMIMERoundTrip(t *testing.T) {
	for _, mime := range []string{"image/jpeg", "image/png", "image/gif", "image/webp"} {
		assert.Equal(t, mime, MIMEForKey("x"+ExtForMIME(mime)))
	}
	assert.Equal(t, ".jpg", ExtForMIME("application/octet-stream"))
	assert.Equal(t, "image/png", MIMEForKey("X.PNG"))
}
