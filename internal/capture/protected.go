package capture

import "strings"

// protectedPrefixes are browser surfaces that refuse debugger attachment.
var protectedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-untrusted://",
	"devtools://",
	"edge://",
	"https://chrome.google.com/webstore",
	"https://chromewebstore.google.com/",
}

// IsProtectedURL reports whether url is a privileged page the Source cannot instrument.
func IsProtectedURL(url string) bool {
	lower := strings.ToLower(strings.TrimSpace(url))
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
