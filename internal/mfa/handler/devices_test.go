package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coresuite/backend/internal/mfa/domain"
	"coresuite/backend/internal/mfa/repository"
)

func TestCreateDevice(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, http.MethodPost, BasePath+"/devices/create",
		map[string]string{"label": "  Telefono  ", "pin": "1234", "pin_confirmation": "1234"}, s.userHeaders(t, "u1"))
	require.Equal(t, http.StatusCreated, res.code, res.body)
	assert.Equal(t, true, res.body["ok"])

	device := res.body["device"].(map[string]any)
	assert.Equal(t, "Telefono", device["label"])
	assert.Equal(t, "pending", device["status"])
	_, err := uuid.Parse(device["device_uuid"].(string))
	assert.NoError(t, err)
	assert.NotContains(t, device, "pin_hash")

	prov := res.body["provisioning"].(map[string]any)
	token := prov["token"].(string)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), token)
	assert.Equal(t, "2026-03-01T09:15:00Z", prov["expires_at"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(prov["qr_payload"].(string)), &payload))
	assert.Equal(t, "https://back.example.com/api/mfa/qr/devices/complete", payload["endpoint"])
	assert.Equal(t, token, payload["token"])
	assert.Equal(t, device["device_uuid"], payload["device_uuid"])
}

func TestCreateDevice_Validation(t *testing.T) {
	s := newTestServer(t)
	testCases := []struct {
		name string
		body map[string]string
		msg  string
	}{
		{"label too short", map[string]string{"label": "ab", "pin": "1234", "pin_confirmation": "1234"}, "label"},
		{"label too long", map[string]string{"label": strings.Repeat("x", 101), "pin": "1234", "pin_confirmation": "1234"}, "label"},
		{"pin too short", map[string]string{"label": "Telefono", "pin": "123", "pin_confirmation": "123"}, "pin"},
		{"pin too long", map[string]string{"label": "Telefono", "pin": "123456789", "pin_confirmation": "123456789"}, "pin"},
		{"pin not numeric", map[string]string{"label": "Telefono", "pin": "12a4", "pin_confirmation": "12a4"}, "pin"},
		{"confirmation mismatch", map[string]string{"label": "Telefono", "pin": "1234", "pin_confirmation": "4321"}, "confirmation"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := s.do(t, http.MethodPost, BasePath+"/devices/create", tc.body, s.userHeaders(t, "u1"))
			assert.Equal(t, http.StatusUnprocessableEntity, res.code)
			assert.Equal(t, false, res.body["ok"])
			assert.Contains(t, res.body["error"], tc.msg)
		})
	}
}

func TestCreateDevice_RequiresUser(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"label": "Telefono", "pin": "1234", "pin_confirmation": "1234"}
	res := s.do(t, http.MethodPost, BasePath+"/devices/create", body, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = s.do(t, http.MethodPost, BasePath+"/devices/create", body, s.pendingHeaders(t, "u1"))
	assert.Equal(t, http.StatusUnauthorized, res.code, "a pending login cannot enroll devices")
}

func TestCreateDevice_Capacity(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"label": "Telefono", "pin": "1234", "pin_confirmation": "1234"}
	for i := 0; i < 5; i++ {
		res := s.do(t, http.MethodPost, BasePath+"/devices/create", body, s.userHeaders(t, "u1"))
		require.Equal(t, http.StatusCreated, res.code)
	}
	res := s.do(t, http.MethodPost, BasePath+"/devices/create", body, s.userHeaders(t, "u1"))
	assert.Equal(t, http.StatusConflict, res.code)
	assert.Equal(t, "device limit reached", res.body["error"])
	assert.Equal(t, float64(5), res.body["max_devices"])
}

func TestCompleteDevice(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, http.MethodPost, BasePath+"/devices/create",
		map[string]string{"label": "Telefono", "pin": "1234", "pin_confirmation": "1234"}, s.userHeaders(t, "u1"))
	require.Equal(t, http.StatusCreated, res.code)
	token := res.body["provisioning"].(map[string]any)["token"].(string)

	res = s.do(t, http.MethodPost, BasePath+"/devices/complete", map[string]string{"token": token}, nil)
	require.Equal(t, http.StatusOK, res.code, res.body)
	assert.Equal(t, "active", res.body["device"].(map[string]any)["status"])
	assert.Equal(t, map[string]any{"display": "Mario Rossi", "username": "mrossi"}, res.body["user"])

	res = s.do(t, http.MethodPost, BasePath+"/devices/complete", map[string]string{"token": token}, nil)
	assert.Equal(t, http.StatusNotFound, res.code, "a provisioning token is single use")

	res = s.do(t, http.MethodPost, BasePath+"/devices/complete", map[string]string{"token": "abc"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)
	res = s.do(t, http.MethodPost, BasePath+"/devices/complete", map[string]string{"token": strings.Repeat("z", 64)}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)
}

func TestCompleteDevice_Expired(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, http.MethodPost, BasePath+"/devices/create",
		map[string]string{"label": "Telefono", "pin": "1234", "pin_confirmation": "1234"}, s.userHeaders(t, "u1"))
	require.Equal(t, http.StatusCreated, res.code)
	token := res.body["provisioning"].(map[string]any)["token"].(string)

	s.clock.Advance(901 * time.Second)
	res = s.do(t, http.MethodPost, BasePath+"/devices/complete", map[string]string{"token": token}, nil)
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestListDevices(t *testing.T) {
	s := newTestServer(t)
	first := s.enroll(t, "u1", "Telefono", "1234")
	second := s.enroll(t, "u1", "Tablet", "5678")
	s.enroll(t, "u2", "Other", "1111")

	res := s.do(t, http.MethodGet, BasePath+"/devices", nil, s.userHeaders(t, "u1"))
	require.Equal(t, http.StatusOK, res.code)
	devices := res.body["devices"].([]any)
	require.Len(t, devices, 2)
	uuids := []string{}
	for _, raw := range devices {
		d := raw.(map[string]any)
		uuids = append(uuids, d["device_uuid"].(string))
		assert.Equal(t, float64(5), d["attempts_left"])
		assert.Equal(t, false, d["pin_locked"])
		assert.Equal(t, float64(0), d["pin_lock_eta_seconds"])
		assert.NotContains(t, d, "pin_hash")
		assert.NotContains(t, d, "provisioning_token_hash")
	}
	assert.ElementsMatch(t, []string{first, second}, uuids)
	assert.Equal(t, float64(5), res.body["pin_attempt_limit"])
	assert.Equal(t, float64(300), res.body["pin_lock_seconds"])
}

func TestRevokeDevice(t *testing.T) {
	s := newTestServer(t)
	deviceUUID := s.enroll(t, "u1", "Telefono", "1234")

	res := s.do(t, http.MethodPost, BasePath+"/devices/revoke", map[string]string{"device_uuid": deviceUUID}, s.userHeaders(t, "u2"))
	assert.Equal(t, http.StatusNotFound, res.code, "cannot revoke another user's device")

	res = s.do(t, http.MethodPost, BasePath+"/devices/revoke", map[string]string{"device_uuid": deviceUUID}, s.userHeaders(t, "u1"))
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, true, res.body["revoked"])

	res = s.do(t, http.MethodPost, BasePath+"/devices/revoke", map[string]string{"device_uuid": deviceUUID}, s.userHeaders(t, "u1"))
	assert.Equal(t, http.StatusNotFound, res.code)

	res = s.do(t, http.MethodPost, BasePath+"/devices/revoke", map[string]string{"device_uuid": "not-a-uuid"}, s.userHeaders(t, "u1"))
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)
}

func TestInvalidJSONBody(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, http.MethodPost, BasePath+"/devices/revoke", "not an object", s.userHeaders(t, "u1"))
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)
	assert.Equal(t, "invalid request body", res.body["error"])
}

// directoryStore behaves like the Postgres store for a user missing from the users table.
type directoryStore struct {
	*repository.MemoryRepository
}

func (directoryStore) CreateDeviceWithinLimit(ctx context.Context, d *domain.Device, limit int) (bool, error) {
	return false, repository.ErrUnknownUser
}

func TestCreateDevice_UnknownUser(t *testing.T) {
	s := newTestServerWithStore(t, directoryStore{repository.NewMemoryRepository()})
	res := s.do(t, http.MethodPost, BasePath+"/devices/create",
		map[string]string{"label": "Telefono", "pin": "1234", "pin_confirmation": "1234"}, s.userHeaders(t, "ghost"))
	assert.Equal(t, http.StatusForbidden, res.code)
	assert.Equal(t, "unknown user", res.body["error"])
}
