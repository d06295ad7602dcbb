//go:build sonic

package httpupload

import "github.com/bytedance/sonic"

var jsonMarshal = sonic.Marshal
var jsonUnmarshal = sonic.Unmarshal
