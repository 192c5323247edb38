package utils

import (
	"strings"

	"github.com/gin-gonic/gin"
	ua "github.com/mssola/user_agent"

	"github.com/smarttransit/afc-backend/internal/models"
)

// Headers gate firmware sends alongside each scan
const (
	HeaderFirmware = "X-Gate-Firmware"
	HeaderGateMode = "X-Gate-Mode"
)

// DeviceInfo is what a validation remembers about the scanning device
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // gate, handheld, mobile, desktop, unknown
	OS         string `json:"os"`
	Client     string `json:"client"`
	ClientVer  string `json:"client_ver,omitempty"`
	Firmware   string `json:"firmware,omitempty"`
	Mode       string `json:"mode,omitempty"` // online or offline replay
	IP         string `json:"ip,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

// ParseUserAgent classifies a User-Agent string
func ParseUserAgent(userAgent string) DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Client: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()
	if name == "" {
		name = "Unknown"
	}

	info := DeviceInfo{
		DeviceType: deviceType(parser),
		OS:         osName(parser),
		Client:     name,
		ClientVer:  version,
		Raw:        userAgent,
	}
	return info
}

// DeviceContext builds the device_info document stored with a validation
func DeviceContext(c *gin.Context) models.JSONB {
	info := ParseUserAgent(c.Request.UserAgent())
	info.Firmware = c.GetHeader(HeaderFirmware)
	info.Mode = c.GetHeader(HeaderGateMode)
	info.IP = ClientIP(c)

	doc := models.JSONB{
		"device_type": info.DeviceType,
		"os":          info.OS,
		"client":      info.Client,
		"ip":          info.IP,
	}
	if info.ClientVer != "" {
		doc["client_ver"] = info.ClientVer
	}
	if info.Firmware != "" {
		doc["firmware"] = info.Firmware
	}
	if info.Mode != "" {
		doc["mode"] = info.Mode
	}
	return doc
}

func deviceType(parser *ua.UserAgent) string {
	raw := strings.ToLower(parser.UA())
	switch {
	case strings.Contains(raw, "afc-gate"):
		return "gate"
	case strings.Contains(raw, "afc-handheld"):
		return "handheld"
	case parser.Mobile():
		return "mobile"
	case parser.Bot():
		return "unknown"
	}
	return "desktop"
}

func osName(parser *ua.UserAgent) string {
	osInfo := parser.OSInfo()
	if osInfo.Name == "" {
		return "Unknown"
	}
	if osInfo.Version != "" {
		return osInfo.Name + " " + osInfo.Version
	}
	return osInfo.Name
}
