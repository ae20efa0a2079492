package provision

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"time"
)

// renewWindow is how close to expiry a certificate may be and still count
// as usable.
const renewWindow = 30 * 24 * time.Hour

func liveDir(certDir, host string) string {
	return filepath.Join(certDir, "live", host)
}

// certificateUsable reports whether path holds a PEM chain whose leaf is
// valid beyond now+renewWindow. Unreadable files count as unusable.
func certificateUsable(path string, now time.Time) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return false
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}
	return now.Add(renewWindow).Before(cert.NotAfter)
}
