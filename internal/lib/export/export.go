package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/dpup/crm-maps/server/internal/lib/routing"
)

// Format is a route file format
type Format string

const (
	FormatKML     Format = "kml"
	FormatGeoJSON Format = "geojson"
	FormatGPX     Format = "gpx"
)

// ParseFormat accepts a format name in any case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatKML, FormatGeoJSON, FormatGPX:
		return f, nil
	case "json":
		return FormatGeoJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType is the MIME type served for f
func (f Format) ContentType() string {
	switch f {
	case FormatKML:
		return "application/vnd.google-earth.kml+xml"
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatGPX:
		return "application/gpx+xml"
	default:
		return "application/octet-stream"
	}
}

// Extension is the file extension for f, without the dot
func (f Format) Extension() string {
	return string(f)
}

// Write renders snap in format to w
func Write(w io.Writer, format Format, name string, snap routing.Snapshot) error {
	switch format {
	case FormatKML:
		return WriteKML(w, name, snap)
	case FormatGeoJSON:
		return WriteGeoJSON(w, name, snap)
	case FormatGPX:
		return WriteGPX(w, name, snap)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
