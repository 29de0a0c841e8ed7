package client

import (
	"encoding/json"
	"fmt"
)

type embed struct {
	Title  string  `json:"title"`
	URL    string  `json:"url,omitempty"`
	Fields []field `json:"fields,omitempty"`
}

type field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload builds a webhook body in the shape the named bot sends.
// source is one of sb, ow or tkt.
func Payload(source, link string) ([]byte, error) {
	var e embed
	switch source {
	case "sb":
		e = embed{Title: "Queue Passed!", URL: link}
	case "ow":
		e = embed{Title: "PASSED QUEUE", Fields: []field{{Name: "Link", Value: link}}}
	case "tkt":
		e = embed{Title: "--Queue SUCCESS--", Fields: []field{
			{Name: "Account", Value: "feedctl"},
			{Name: "Site", Value: "-"},
			{Name: "Event", Value: "-"},
			{Name: "Date", Value: "-"},
			{Name: "Queue", Value: "-"},
			{Name: "Proxy", Value: "-"},
			{Name: "Checkout", Value: "cart||" + link},
		}}
	default:
		return nil, fmt.Errorf("client: unknown source %q: want sb|ow|tkt", source)
	}
	return json.Marshal(map[string][]embed{"embeds": {e}})
}
