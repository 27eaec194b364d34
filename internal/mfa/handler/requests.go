package handler

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	labelMinLen    = 3
	labelMaxLen    = 100
	minTokenHexLen = 32
)

var (
	pinPattern   = regexp.MustCompile(`^[0-9]{4,8}$`)
	tokenPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// Decision actions.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

type createDeviceRequest struct {
	Label           string `json:"label"`
	Pin             string `json:"pin"`
	PinConfirmation string `json:"pin_confirmation"`
}

func (r *createDeviceRequest) normalize() error {
	r.Label = strings.TrimSpace(r.Label)
	if n := utf8.RuneCountInString(r.Label); n < labelMinLen || n > labelMaxLen {
		return errors.New("label must be between 3 and 100 characters")
	}
	if !pinPattern.MatchString(r.Pin) {
		return errors.New("pin must be 4 to 8 digits")
	}
	if r.Pin != r.PinConfirmation {
		return errors.New("pin confirmation does not match")
	}
	return nil
}

type tokenRequest struct {
	Token string `json:"token" form:"token"`
}

func (r *tokenRequest) normalize() error {
	r.Token = strings.TrimSpace(r.Token)
	if !validToken(r.Token) {
		return errors.New("invalid token")
	}
	return nil
}

type revokeDeviceRequest struct {
	DeviceUUID string `json:"device_uuid"`
}

func (r *revokeDeviceRequest) normalize() error {
	r.DeviceUUID = strings.TrimSpace(r.DeviceUUID)
	if !validUUID(r.DeviceUUID) {
		return errors.New("invalid device_uuid")
	}
	return nil
}

type decisionRequest struct {
	Token      string `json:"token"`
	DeviceUUID string `json:"device_uuid"`
	Pin        string `json:"pin"`
	Action     string `json:"action"`
}

func (r *decisionRequest) normalize() error {
	r.Token = strings.TrimSpace(r.Token)
	r.DeviceUUID = strings.TrimSpace(r.DeviceUUID)
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	switch {
	case !validToken(r.Token):
		return errors.New("invalid token")
	case !validUUID(r.DeviceUUID):
		return errors.New("invalid device_uuid")
	case !pinPattern.MatchString(r.Pin):
		return errors.New("pin must be 4 to 8 digits")
	case r.Action != ActionApprove && r.Action != ActionDeny:
		return errors.New("action must be approve or deny")
	}
	return nil
}

// validToken accepts hex strings of at least 32 characters.
func validToken(s string) bool {
	return len(s) >= minTokenHexLen && tokenPattern.MatchString(s)
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
