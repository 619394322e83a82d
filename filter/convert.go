package filter

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Payload values arrive as whatever the browser sent, so the helpers decode
// weakly: "42", 42.0 and 42 are all AsInt 42. Unconvertible values yield the
// zero value.

func AsInt(v interface{}) int64 {
	res := struct {
		Value int64 `mapstructure:"value"`
	}{}
	_ = mapstructure.WeakDecode(map[string]interface{}{"value": v}, &res)
	return res.Value
}

func AsFloat(v interface{}) float64 {
	res := struct {
		Value float64 `mapstructure:"value"`
	}{}
	_ = mapstructure.WeakDecode(map[string]interface{}{"value": v}, &res)
	return res.Value
}

func AsString(v interface{}) string {
	res := struct {
		Value string `mapstructure:"value"`
	}{}
	_ = mapstructure.WeakDecode(map[string]interface{}{"value": v}, &res)
	return res.Value
}

// AsStringSlice splits a comma-separated value
func AsStringSlice(v string) []string {
	if v == "" {
		return []string{}
	}
	return strings.Split(v, ",")
}
