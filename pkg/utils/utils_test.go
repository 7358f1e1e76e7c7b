package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

func newContext(method, target, body string) echo.Context {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestBindRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"Ana","email":"ana@example.com"}`},
		{name: "missing name", body: `{"email":"ana@example.com"}`, wantErr: "field 'Name' failed rule 'required'"},
		{name: "bad email", body: `{"name":"Ana","email":"nope"}`, wantErr: "rule 'email'"},
		{name: "malformed", body: `{"name":`, wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BindRequest[createRequest](newContext(http.MethodPost, "/", tt.body))
			if tt.name == "valid" {
				require.NoError(t, err)
				assert.Equal(t, "Ana", got.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
			if tt.wantErr != "" {
				assert.Contains(t, Validate(got).Error(), tt.wantErr)
			}
		})
	}
}

func TestQueryParams(t *testing.T) {
	c := newContext(http.MethodGet, "/?limit=20&unassigned=true&offset=-1&flag=maybe", "")

	n, err := QueryInt(c, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = QueryInt(c, "missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	_, err = QueryInt(c, "offset", 0)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	b, err := QueryBool(c, "unassigned")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = QueryBool(c, "flag")
	assert.Error(t, err)
}
