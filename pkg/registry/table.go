package registry

import (
	"github.com/illmade-knight/go-cnxstream/pkg/schema"
)

// Event types published on the network-services stream.
const (
	WidsRulesDetectionCreated      = "com.hpe.greenlake.network-services.v1alpha1.wids-rules.detection.created"
	WidsSignaturesDetectionCreated = "com.hpe.greenlake.network-services.v1alpha1.wids-signatures.detection.created"
	WifiClientLocationsCreated     = "com.hpe.greenlake.network-services.v1alpha1.wifi-client-locations.created"
	AssetTagLastKnownLocation      = "com.hpe.greenlake.network-services.v1alpha1.asset-tags.last-known-location.created"
)

// DefaultEntries is the table of event types this client decodes. Supporting a
// new event type means adding a row here.
var DefaultEntries = []Entry{
	{EventType: WidsRulesDetectionCreated, Schema: schema.WidsStreamMessage, Field: "widsRulesEvent"},
	{EventType: WidsSignaturesDetectionCreated, Schema: schema.WidsStreamMessage, Field: "widsSignaturesEvent"},
	{EventType: WifiClientLocationsCreated, Schema: schema.StreamLocationMessage, Field: "wifi_client_location"},
	{EventType: AssetTagLastKnownLocation, Schema: schema.StreamLocationMessage, Field: "asset_tag_location"},
}

// MustDefault builds the registry from DefaultEntries and panics if the table
// is inconsistent with the declared schemas.
func MustDefault() *Registry {
	r, err := New(DefaultEntries...)
	if err != nil {
		panic("registry: default table: " + err.Error())
	}
	return r
}
