package emailfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	f := Default()

	tests := []struct {
		in   string
		want string
	}{
		{"John at Gmail dot com", "john@gmail.com"},
		{"juan arroba hotmail punto es", "juan@hotmail.es"},
		{"ana guion bajo lopez at outlook dot com", "ana_lopez@outlook.com"},
		{"mike dash jones at yahoo dot es", "mike-jones@yahoo.es"},
		{"Already@Valid.ORG ", "already@valid.org"},
		{"j . smith @ example . com", "j.smith@example.com"},
		{"maria.hotmail", "maria@hotmail.com"},
		{"pepe.es", "pepe@gmail.es"},
		{"pepe.xyzabc", "pepe@gmail.com"},
		{"user@gmail", "user@gmail.com"},
		{"user@company", "user@company.com"},
		{"john.smith.gmail.com", "john.smith@gmail.com"},
		{"john.doe.example.com", "john.doe@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Format(tt.in))
		})
	}
}

func TestFormat_DoesNotTouchWordsContainingSymbols(t *testing.T) {
	f := Default()
	// "cat" and "dotty" contain spoken symbol words but are not separate words.
	assert.Equal(t, "dotty.cat@gmail.com", f.Format("dotty dot cat at gmail dot com"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("a.b+c@example.co"))
	assert.False(t, IsValid("a@b"))
	assert.False(t, IsValid("no-at-sign.com"))
	assert.False(t, IsValid("a@b.c"))
}

func TestNew_CustomVocabulary(t *testing.T) {
	f := New([]string{"proton.me"}, []string{".me"}, []Symbol{{Word: "arroba", Char: "@"}})
	assert.Equal(t, "ana@proton.me", f.Format("ana arroba proton.me"))
	assert.Equal(t, "ana@proton.com", f.Format("ana.proton"))
}
