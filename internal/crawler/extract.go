package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Placeholders used when a layer descriptor omits a value.
const (
	DefaultLayerName    = "No name available"
	DefaultDescription  = "No description available"
	UnknownGeometryType = "Unknown"
)

const esriGeometryPrefix = "esrigeometry"

// DefaultGeometryTypes is the allowed set used when none is configured.
var DefaultGeometryTypes = []string{"point", "polyline", "multipoint", "line"}

// GeometryPolicy decides which layers produce records based on their
// geometry type. The zero value allows DefaultGeometryTypes and drops layers
// without a geometry type.
type GeometryPolicy struct {
	allowed     map[string]struct{}
	keepUnknown bool
}

// NewGeometryPolicy builds a policy from type names such as "point" or
// "esriGeometryPolyline". Matching ignores case and the esriGeometry prefix.
// keepUnknown admits layers that report no geometry type at all.
func NewGeometryPolicy(allowed []string, keepUnknown bool) GeometryPolicy {
	if len(allowed) == 0 {
		allowed = DefaultGeometryTypes
	}
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		if key := geometryKey(name); key != "" {
			set[key] = struct{}{}
		}
	}
	return GeometryPolicy{allowed: set, keepUnknown: keepUnknown}
}

// Allows reports whether a layer with the given geometry type is emitted.
// An empty type means the descriptor carried none.
func (p GeometryPolicy) Allows(geometryType string) bool {
	key := geometryKey(geometryType)
	if key == "" {
		return p.keepUnknown
	}
	allowed := p.allowed
	if allowed == nil {
		allowed = defaultGeometry.allowed
	}
	_, ok := allowed[key]
	return ok
}

var defaultGeometry = NewGeometryPolicy(nil, false)

func geometryKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(key, esriGeometryPrefix)
}

// ExtractLayer converts a layer descriptor into a record. The second return
// value is false when the geometry policy rejects the layer.
func ExtractLayer(desc LayerDescriptor, layerURL string, policy GeometryPolicy) (LayerRecord, bool) {
	geometry := ""
	if desc.GeometryType != nil {
		geometry = strings.TrimSpace(*desc.GeometryType)
	}
	if !policy.Allows(geometry) {
		return LayerRecord{}, false
	}
	if geometry == "" {
		geometry = UnknownGeometryType
	}

	name := DefaultLayerName
	if desc.Name != nil {
		name = *desc.Name
	}
	description := DefaultDescription
	if desc.Description != nil {
		description = plainText(*desc.Description)
	}
	fields := make([]string, 0, len(desc.Fields))
	for _, field := range desc.Fields {
		if field.Name != "" {
			fields = append(fields, field.Name)
		}
	}

	return LayerRecord{
		LayerName:    name,
		Fields:       fields,
		Description:  description,
		GeometryType: geometry,
		URL:          NormalizeURL(stripQuery(layerURL)),
	}, true
}

// plainText strips markup from an HTML fragment. Input that fails to parse
// is returned trimmed but otherwise untouched.
func plainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}
