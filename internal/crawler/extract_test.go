package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestExtractLayer(t *testing.T) {
	t.Parallel()

	policy := NewGeometryPolicy(nil, false)
	desc := LayerDescriptor{
		Name:         strPtr("Hydrants"),
		Description:  strPtr("<p>Fire <b>hydrant</b> locations &amp; status</p>"),
		GeometryType: strPtr("esriGeometryPoint"),
		Fields:       []FieldDescriptor{{Name: "OBJECTID"}, {Name: ""}, {Name: "STATUS"}},
	}

	rec, ok := ExtractLayer(desc, "http://x//arcgis/rest/services/Water/FeatureServer/0?f=json", policy)
	require.True(t, ok)
	assert.Equal(t, LayerRecord{
		LayerName:    "Hydrants",
		Fields:       []string{"OBJECTID", "STATUS"},
		Description:  "Fire hydrant locations & status",
		GeometryType: "esriGeometryPoint",
		URL:          "http://x/arcgis/rest/services/Water/FeatureServer/0",
	}, rec)
}

func TestExtractLayerDefaults(t *testing.T) {
	t.Parallel()

	rec, ok := ExtractLayer(LayerDescriptor{GeometryType: strPtr("esriGeometryPolyline")}, "http://x/s/MapServer/3", NewGeometryPolicy(nil, false))
	require.True(t, ok)
	assert.Equal(t, DefaultLayerName, rec.LayerName)
	assert.Equal(t, DefaultDescription, rec.Description)
	assert.NotNil(t, rec.Fields)
	assert.Empty(t, rec.Fields)
}

func TestExtractLayerEmptyDescriptionStaysEmpty(t *testing.T) {
	t.Parallel()

	rec, ok := ExtractLayer(LayerDescriptor{
		Description:  strPtr(""),
		GeometryType: strPtr("esriGeometryMultipoint"),
	}, "http://x/s/FeatureServer/1", NewGeometryPolicy(nil, false))
	require.True(t, ok)
	assert.Equal(t, "", rec.Description)
}

func TestGeometryPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		allowed     []string
		keepUnknown bool
		geometry    string
		want        bool
	}{
		{"point", nil, false, "esriGeometryPoint", true},
		{"polyline", nil, false, "esriGeometryPolyline", true},
		{"multipoint", nil, false, "esriGeometryMultipoint", true},
		{"line", nil, false, "esriGeometryLine", true},
		{"bare name any case", nil, false, "POINT", true},
		{"polygon dropped", nil, false, "esriGeometryPolygon", false},
		{"envelope dropped", nil, false, "esriGeometryEnvelope", false},
		{"missing dropped by default", nil, false, "", false},
		{"missing kept when configured", nil, true, "", true},
		{"custom set", []string{"esriGeometryPolygon"}, false, "esriGeometryPolygon", true},
		{"custom set excludes default", []string{"polygon"}, false, "esriGeometryPoint", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewGeometryPolicy(tt.allowed, tt.keepUnknown).Allows(tt.geometry))
		})
	}
}

func TestGeometryPolicyZeroValueUsesDefaults(t *testing.T) {
	t.Parallel()

	var p GeometryPolicy
	assert.True(t, p.Allows("esriGeometryPoint"))
	assert.True(t, p.Allows("polyline"))
	assert.False(t, p.Allows("esriGeometryPolygon"))
	assert.False(t, p.Allows(""))
}

func TestExtractLayerUnknownGeometry(t *testing.T) {
	t.Parallel()

	_, ok := ExtractLayer(LayerDescriptor{Name: strPtr("Owners")}, "http://x/s/FeatureServer/5", NewGeometryPolicy(nil, false))
	assert.False(t, ok)

	rec, ok := ExtractLayer(LayerDescriptor{Name: strPtr("Owners")}, "http://x/s/FeatureServer/5", NewGeometryPolicy(nil, true))
	require.True(t, ok)
	assert.Equal(t, UnknownGeometryType, rec.GeometryType)
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", plainText("  plain "))
	assert.Equal(t, "Line one Line two", plainText("<div>Line one <span>Line two</span></div>"))
}
