package privacy

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"+", "+"},
		{"+123", "+***"},
		{"+15551234567", "+*******4567"},
		{"5551234567", "******4567"},
		{"1234", "****"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhoneNumber(tt.in), "input %q", tt.in)
	}
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "A** L****", MaskName("Ana Lopez"))
	assert.Equal(t, "J***", MaskName("José"))
	assert.Equal(t, "", MaskName(""))
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "****", MaskIdentifier("abcd"))
	assert.Equal(t, "**cdefghij", MaskIdentifier("abcdefghij"))
}

func TestMaskBody(t *testing.T) {
	assert.Equal(t, "", MaskBody(""))
	assert.Equal(t, "**(2)", MaskBody("hi"))
	assert.Equal(t, "********(12)", MaskBody("hello world!"))
}

func TestMaskFields(t *testing.T) {
	assert.Nil(t, MaskFields(nil))

	in := logrus.Fields{
		"customer_phone": "+15551234567",
		"name":           "Ana",
		"body":           "secret",
		"conversation":   "c1",
		"count":          3,
	}
	out := MaskFields(in)

	assert.Equal(t, "+*******4567", out["customer_phone"])
	assert.Equal(t, "A**", out["name"])
	assert.Equal(t, "******(6)", out["body"])
	assert.Equal(t, "c1", out["conversation"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "+15551234567", in["customer_phone"], "input must not be modified")
}
