package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashEmail(t *testing.T) {
	assert.Equal(t, "", HashEmail(""))
	assert.Len(t, HashEmail("alice@agency.gov"), 16)
	assert.Equal(t, HashEmail("alice@agency.gov"), HashEmail(" Alice@Agency.gov "))
	assert.NotEqual(t, HashEmail("alice@agency.gov"), HashEmail("bob@agency.gov"))
}

func TestRedactEmails(t *testing.T) {
	out := RedactEmails("lease for alice@agency.gov owned by Bob.Jones@agency.gov")

	assert.NotContains(t, out, "alice@agency.gov")
	assert.NotContains(t, out, "Bob.Jones@agency.gov")
	assert.Contains(t, out, "email:"+HashEmail("alice@agency.gov"))
	assert.Contains(t, out, "email:"+HashEmail("bob.jones@agency.gov"))

	assert.Equal(t, "no address here", RedactEmails("no address here"))
	assert.Equal(t, "user@localhost", RedactEmails("user@localhost"))
}
