package util_test

import (
	"testing"

	"github.com/imobflow/messaging-engine/internal/util"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+5511999990000", "+5511999990000"},
		{"5511999990000", "+5511999990000"},
		{"005511999990000", "+5511999990000"},
		{"11999990000", "+5511999990000"},
		{"1133334444", "+551133334444"},
		{"(11) 99999-0000", "+5511999990000"},
		{" +55 11 99999-0000 ", "+5511999990000"},
		{"+14155552671", "+14155552671"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, util.NormalizePhone(c.in), "input %q", c.in)
	}
}

func TestValidE164(t *testing.T) {
	assert.True(t, util.ValidE164("+5511999990000"))
	assert.True(t, util.ValidE164("+14155552671"))

	assert.False(t, util.ValidE164("5511999990000"))
	assert.False(t, util.ValidE164("+0123456789"))
	assert.False(t, util.ValidE164("+55"))
	assert.False(t, util.ValidE164("not-a-phone"))
	assert.False(t, util.ValidE164(""))
}
