package helper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	types "storefront-checkout/internal/common/type"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMapInt64Value(t *testing.T) {
	m := map[string]any{
		"float":  float64(100000),
		"string": "250000.00",
		"bad":    "abc",
	}

	assert.Equal(t, int64(100000), *GetMapInt64Value(m, "float"))
	assert.Equal(t, int64(250000), *GetMapInt64Value(m, "string"))
	assert.Equal(t, int64(250000), *GetMapInt64Value(m, "missing", "bad", "string"))
	assert.Nil(t, GetMapInt64Value(m, "missing"))
	assert.Equal(t, int64(7), PointerToInt64(nil, 7))
}

func TestGetMapStringValue(t *testing.T) {
	m := map[string]any{"trx_id": "", "order_id": "ORD-1"}
	assert.Equal(t, "ORD-1", GetMapStringValue(m, "trx_id", "order_id"))
	assert.Equal(t, "", GetMapStringValue(m, "nope"))
}

func TestGetMapDateTimeValue(t *testing.T) {
	m := map[string]any{
		"rfc":      "2026-10-19T10:00:00Z",
		"midtrans": "2026-10-19 17:00:00",
	}

	rfc := GetMapDateTimeValue(m, "rfc")
	require.NotNil(t, rfc)
	assert.True(t, rfc.Equal(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)))

	wib := GetMapDateTimeValue(m, "midtrans")
	require.NotNil(t, wib)
	assert.True(t, wib.Equal(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)))

	assert.Nil(t, GetMapDateTimeValue(m, "absent"))
}

func TestFormatIDR(t *testing.T) {
	out := FormatIDR(100000)
	require.True(t, strings.HasPrefix(out, "Rp"))
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, out)
	assert.Equal(t, "100000", digits)
}

func TestParseResponse(t *testing.T) {
	r := ParseResponse(&types.Response{Error: errors.New("boom")})
	assert.Equal(t, http.StatusInternalServerError, r.Code)
	assert.Equal(t, "Internal Server Error", r.Message)

	api := ToResponseAPI(r)
	assert.Equal(t, "boom", api.Error)

	ok := ParseResponse(&types.Response{Data: 1})
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestHTTPClientRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "x", body["name"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"ORD-9"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(&HTTPClientConfig{RequestTimeout: time.Second})
	resp, err := client.Request(&HTTPRequestPayload{
		Method: POST,
		URL:    srv.URL,
		Params: map[string]string{"page": "1"},
		Body:   map[string]string{"name": "x"},
	}, &HTTPRequestConfig{
		Ctx:     context.Background(),
		Headers: http.Header{"Authorization": []string{"Bearer abc"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "ORD-9", resp.Data["order_id"])
}

func TestHTTPClientNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(&HTTPClientConfig{}).Request(&HTTPRequestPayload{Method: GET, URL: srv.URL}, &HTTPRequestConfig{})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess())
	assert.Nil(t, resp.Data)
	assert.Equal(t, "upstream down", string(resp.Raw))
}
