package microsoft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIssuerURL(t *testing.T) {
	assert.Equal(t, "https://login.microsoftonline.com/common/v2.0", IssuerURL(""))
	assert.Equal(t, "https://login.microsoftonline.com/contoso.onmicrosoft.com/v2.0", IssuerURL("contoso.onmicrosoft.com"))
}

func TestMultiTenant(t *testing.T) {
	for _, tenant := range []string{"", "common", "organizations", "consumers"} {
		assert.True(t, multiTenant(tenant), tenant)
	}
	assert.False(t, multiTenant("9188040d-6c67-4c5b-b112-36a304b66dad"))
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), "common", "", "", "")
	assert.Error(t, err)
}
