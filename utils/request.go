package utils

import (
	"net"
	"net/http"
	"strings"

	"mailtracker/models"
)

type DeviceInfo struct {
	DeviceType string
	Browser    string
	OS         string
}

// RequestMetadata collects the headers the classifier reads. Missing headers
// come back as empty strings.
func RequestMetadata(r *http.Request) models.RequestMetadata {
	return models.RequestMetadata{
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		SourceIP:  GetClientIP(r),
	}
}

func GetClientIP(r *http.Request) string {
	// 1. Cloudflare / some CDNs / modern proxies sometimes use this
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		if ip := net.ParseIP(cf); ip != nil {
			return ip.String()
		}
	}

	// 2. X-Real-IP  (set by nginx/apache when configured with real_ip module)
	if real := r.Header.Get("X-Real-IP"); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}

	// 3. X-Forwarded-For – take the RIGHTMOST public IP, else the leftmost entry
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ipStr := strings.TrimSpace(parts[i])
			if ip := net.ParseIP(ipStr); ip != nil {
				if !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsMulticast() {
					return ipStr
				}
			}
		}
		return strings.TrimSpace(parts[0])
	}

	// 4. Fallback – direct connection or no proxy headers
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func ParseUserAgent(userAgent string) *DeviceInfo {
	info := &DeviceInfo{
		DeviceType: "Desktop",
		Browser:    "Unknown",
		OS:         "Unknown",
	}

	ua := strings.ToLower(userAgent)
	if ua == "" {
		info.DeviceType = "Unknown"
		return info
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.DeviceType = "Tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.DeviceType = "Mobile"
	}

	// Edge and Opera carry a Chrome token, Chrome carries a Safari token.
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		info.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "crios"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "firefox") || strings.Contains(ua, "fxios"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac os"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	return info
}

// IsMobile reports whether the device is a phone or tablet.
func (d *DeviceInfo) IsMobile() bool {
	return d.DeviceType == "Mobile" || d.DeviceType == "Tablet"
}
