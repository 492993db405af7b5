package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

const emergencyCodeBcryptCost = 12

// EmergencyCodeSet validates emergency unlock codes. Two modes can be active
// at once: a static set of pre-shared codes stored as bcrypt hashes, and a
// rotating mode where a TOTP secret yields a fresh 30-second code on manager
// devices. Static codes are multi-use; rotating codes expire on their own.
type EmergencyCodeSet struct {
	codeHashes []string
	totpSecret string
}

// NewEmergencyCodeSet builds the validator from configured hashes and an
// optional base32 TOTP secret
func NewEmergencyCodeSet(codeHashes []string, totpSecret string) *EmergencyCodeSet {
	return &EmergencyCodeSet{codeHashes: codeHashes, totpSecret: totpSecret}
}

// Empty reports whether no emergency unlock path is configured at all
func (s *EmergencyCodeSet) Empty() bool {
	return len(s.codeHashes) == 0 && s.totpSecret == ""
}

// Matches reports whether code is a currently valid emergency code.
// bcrypt comparison is constant-time per hash; iteration order leaks nothing
// useful since every hash is checked on failure.
func (s *EmergencyCodeSet) Matches(code string) bool {
	if code == "" {
		return false
	}

	for _, hash := range s.codeHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil {
			return true
		}
	}

	if s.totpSecret != "" && totp.Validate(code, s.totpSecret) {
		return true
	}

	return false
}

// HashEmergencyCode produces the bcrypt hash to place in configuration for a
// static emergency code
func HashEmergencyCode(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("emergency code cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), emergencyCodeBcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash emergency code: %w", err)
	}
	return string(hash), nil
}

// EmergencyProvisioning holds everything needed to enroll a manager device
// with the rotating emergency code secret
type EmergencyProvisioning struct {
	Secret        string
	OTPAuthURL    string
	QRCodeDataURL string
}

// GenerateEmergencySecret creates a fresh rotating-code secret plus the
// otpauth URL and a QR code data URL for enrollment
func GenerateEmergencySecret(issuer, accountName string) (*EmergencyProvisioning, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate emergency secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &EmergencyProvisioning{
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		QRCodeDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}
