package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

const (
	NameDesktop = "Desktop"
	NameMobile  = "Mobile"
	NameTablet  = "Tablet"
	NameBot     = "Bot"
	NameUnknown = "Unknown"
)

// Fingerprint identifies a client device. Two requests with equal Name, OS, Browser
// and IP are the same device; BrowserVersion is informational.
type Fingerprint struct {
	Name           string `json:"name"`
	OS             string `json:"os"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	IP             string `json:"ip"`
}

// Key returns a stable hex digest of the identifying fields.
func (f Fingerprint) Key() string {
	h := sha256.New()
	for _, part := range []string{f.Name, f.OS, f.Browser, f.IP} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

var desktopFamilies = []string{"Windows", "Mac OS X", "macOS", "Linux", "CrOS", "Chrome OS", "FreeBSD", "OpenBSD", "Ubuntu"}

// Parse builds a Fingerprint. An empty user agent yields Name "Unknown".
func Parse(userAgent, ip string) Fingerprint {
	fp := Fingerprint{IP: strings.TrimSpace(ip)}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		fp.Name = NameUnknown
		fp.OS = NameUnknown
		fp.Browser = NameUnknown
		return fp
	}

	ua := useragent.New(userAgent)
	fp.Browser, fp.BrowserVersion = ua.Browser()
	if fp.Browser == "" {
		fp.Browser = NameUnknown
	}
	family := osFamily(ua)
	fp.OS = family
	if fp.OS == "" {
		fp.OS = NameUnknown
	}

	switch {
	case ua.Bot():
		fp.Name = NameBot
	case ua.Mobile() || isTablet(ua, userAgent):
		fp.Name = mobileName(ua, userAgent, family)
	case isDesktopFamily(family):
		fp.Name = NameDesktop
	default:
		fp.Name = NameUnknown
	}
	return fp
}

func osFamily(ua *useragent.UserAgent) string {
	info := ua.OSInfo()
	if info.Name != "" {
		return info.Name
	}
	return ua.OS()
}

func isDesktopFamily(family string) bool {
	for _, f := range desktopFamilies {
		if strings.HasPrefix(family, f) {
			return true
		}
	}
	return false
}

func isTablet(ua *useragent.UserAgent, raw string) bool {
	if ua.Platform() == "iPad" || strings.Contains(raw, "iPad") || strings.Contains(raw, "Tablet") {
		return true
	}
	// Android tablets omit the "Mobile" token.
	return strings.Contains(raw, "Android") && !strings.Contains(raw, "Mobile")
}

// mobileName resolves brand+model, then model, then OS family, then a generic class.
func mobileName(ua *useragent.UserAgent, raw, family string) string {
	model := strings.TrimSpace(ua.Model())
	if model == "" {
		switch p := ua.Platform(); p {
		case "iPhone", "iPad", "iPod", "iPod touch":
			model = p
		}
	}
	if model != "" {
		if brand := brandFor(model, raw); brand != "" && !strings.HasPrefix(strings.ToLower(model), strings.ToLower(brand)) {
			return brand + " " + model
		}
		return model
	}
	if family != "" && !isDesktopFamily(family) {
		return family
	}
	if isTablet(ua, raw) {
		return NameTablet
	}
	if ua.Mobile() {
		return NameMobile
	}
	return NameUnknown
}

var brandPrefixes = []struct {
	prefix string
	brand  string
}{
	{"iPhone", "Apple"},
	{"iPad", "Apple"},
	{"iPod", "Apple"},
	{"SM-", "Samsung"},
	{"GT-", "Samsung"},
	{"Pixel", "Google"},
	{"Nexus", "Google"},
	{"Redmi", "Xiaomi"},
	{"Mi ", "Xiaomi"},
	{"M2", "Xiaomi"},
	{"CPH", "OPPO"},
	{"RMX", "Realme"},
	{"ONEPLUS", "OnePlus"},
	{"HUAWEI", "Huawei"},
	{"moto", "Motorola"},
	{"Nokia", "Nokia"},
	{"vivo", "vivo"},
	{"LM-", "LG"},
}

func brandFor(model, raw string) string {
	for _, b := range brandPrefixes {
		if strings.HasPrefix(model, b.prefix) {
			return b.brand
		}
	}
	lower := strings.ToLower(raw)
	for _, b := range brandPrefixes {
		if len(b.prefix) > 3 && strings.Contains(lower, strings.ToLower(b.brand)) {
			return b.brand
		}
	}
	return ""
}
