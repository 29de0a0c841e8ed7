package normalize

// Payload is the subset of a Discord webhook body the extractors read.
type Payload struct {
	Embeds []Embed `json:"embeds"`
}

// Embed is one rich embed of a webhook body.
type Embed struct {
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Fields []Field `json:"fields"`
}

// Field is one name/value pair of an embed.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// field returns the i-th field of the first embed and whether it exists.
func (p *Payload) field(i int) (Field, bool) {
	if len(p.Embeds) == 0 || i < 0 || i >= len(p.Embeds[0].Fields) {
		return Field{}, false
	}
	return p.Embeds[0].Fields[i], true
}
