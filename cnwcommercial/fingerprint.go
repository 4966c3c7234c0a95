package cnwcommercial

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"regexp"
	"runtime"
	"slices"
	"strings"
)

// FingerprintEnv overrides the generated installation fingerprint.
const FingerprintEnv = "CNW_FINGERPRINT"

// FingerprintLength is the number of lowercase hex characters in a fingerprint.
const FingerprintLength = 16

var fingerprintPattern = regexp.MustCompile(`^[a-f0-9]{16}$`)

// Interfaces created per container or bridge come and go with workloads
// and must not change the installation identity.
var ephemeralIfacePrefixes = []string{"veth", "docker", "br-", "cni", "flannel", "cali", "virbr", "tun", "tap"}

// ValidFingerprint reports whether fp is exactly 16 lowercase hex characters.
func ValidFingerprint(fp string) bool {
	return fingerprintPattern.MatchString(fp)
}

// GenerateFingerprint returns a stable 16-hex-character installation
// identifier: the first 8 bytes of SHA-256 over the host identity.
//
// A valid CNW_FINGERPRINT takes precedence, which is the way to pin the
// identity of Kubernetes pods. Malformed overrides are ignored.
func GenerateFingerprint() (string, error) {
	if fp := strings.TrimSpace(os.Getenv(FingerprintEnv)); ValidFingerprint(fp) {
		return fp, nil
	}
	identity, err := hostIdentity()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(strings.Join(identity, "|")))
	return hex.EncodeToString(sum[:FingerprintLength/2]), nil
}

// hostIdentity lists hostname, stable MAC addresses, platform and, on
// Linux, the machine-id. Only the hostname is mandatory.
func hostIdentity() ([]string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("get hostname: %w", err)
	}
	identity := []string{hostname}
	identity = append(identity, stableMACs()...)
	identity = append(identity, runtime.GOOS, runtime.GOARCH)
	if id, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity = append(identity, strings.TrimSpace(string(id)))
	}
	return identity, nil
}

// stableMACs returns the sorted MAC addresses of physical-looking,
// non-loopback interfaces.
func stableMACs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 || ephemeralIface(iface.Name) {
			continue
		}
		macs = append(macs, iface.HardwareAddr.String())
	}
	slices.Sort(macs)
	return macs
}

func ephemeralIface(name string) bool {
	for _, p := range ephemeralIfacePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
