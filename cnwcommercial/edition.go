package cnwcommercial

import (
	"os"
	"strings"
)

// Version is the running application version. It is reported to commercial
// backends and compared against the update server's latest release.
// Override at build time with -ldflags "-X github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial.Version=x.y.z".
var Version = "1.0.0"

// ProductToken is the User-Agent product name commercial callers send.
const ProductToken = "CNW-Commerce"

// EditionEnv selects the build edition at runtime.
const EditionEnv = "CNW_EDITION"

// EditionFromEnv returns ClientCommercial when CNW_EDITION is "commercial"
// (case-insensitive) and ClientOpenSource otherwise.
func EditionFromEnv() ClientType {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(EditionEnv)), string(ClientCommercial)) {
		return ClientCommercial
	}
	return ClientOpenSource
}

// UserAgent returns the User-Agent a caller of the given edition sends.
func UserAgent(edition ClientType, version string) string {
	return ProductToken + "/" + version + " (" + string(edition) + ")"
}
