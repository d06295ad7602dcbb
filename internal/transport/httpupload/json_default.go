//go:build !sonic

package httpupload

import "github.com/goccy/go-json"

var jsonMarshal = json.Marshal
var jsonUnmarshal = json.Unmarshal
