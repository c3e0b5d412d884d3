package objstore

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DCNamespace is the Dublin Core element namespace.
const DCNamespace = "http://purl.org/dc/elements/1.1/"

// DCElements lists the fifteen Dublin Core elements in canonical order.
var DCElements = []string{
	"title", "creator", "subject", "description", "publisher",
	"contributor", "date", "type", "format", "identifier",
	"source", "language", "relation", "coverage", "rights",
}

var dcElementSet = func() map[string]bool {
	m := make(map[string]bool, len(DCElements))
	for _, e := range DCElements {
		m[e] = true
	}
	return m
}()

// DCRecord holds the values of a Dublin Core record, per element, in
// document order.
type DCRecord struct {
	fields map[string][]string
}

// Values returns the values of element.
func (r DCRecord) Values(element string) []string {
	return r.fields[element]
}

// Identifiers returns the dc:identifier values.
func (r DCRecord) Identifiers() []string {
	return r.Values("identifier")
}

// Len returns the total number of values.
func (r DCRecord) Len() int {
	n := 0
	for _, v := range r.fields {
		n += len(v)
	}
	return n
}

// Each calls fn for every value, elements in DCElements order.
func (r DCRecord) Each(fn func(element, value string)) {
	for _, e := range DCElements {
		for _, v := range r.fields[e] {
			fn(e, v)
		}
	}
}

// ParseDC parses an oai_dc record. Elements outside the DC namespace are
// ignored; blank values are dropped.
func ParseDC(data []byte) (DCRecord, error) {
	rec := DCRecord{fields: make(map[string][]string)}
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return DCRecord{}, fmt.Errorf("parse DC: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				sawRoot = true
				if t.Name.Local != "dc" {
					return DCRecord{}, fmt.Errorf("parse DC: root element is %q, not dc", t.Name.Local)
				}
				continue
			}
			if depth != 2 || t.Name.Space != DCNamespace || !dcElementSet[t.Name.Local] {
				continue
			}
			var value string
			if err := dec.DecodeElement(&value, &t); err != nil {
				return DCRecord{}, fmt.Errorf("parse DC %s: %w", t.Name.Local, err)
			}
			depth--
			if value = strings.TrimSpace(value); value != "" {
				rec.fields[t.Name.Local] = append(rec.fields[t.Name.Local], value)
			}
		case xml.EndElement:
			depth--
		}
	}
	if depth != 0 {
		return DCRecord{}, fmt.Errorf("parse DC: unexpected end of document")
	}
	if !sawRoot {
		return DCRecord{}, fmt.Errorf("parse DC: no root element")
	}
	return rec, nil
}

// NewDCRecord builds a record from element/value pairs, mainly for tests
// and for writing objects.
func NewDCRecord(pairs ...string) DCRecord {
	rec := DCRecord{fields: make(map[string][]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.fields[pairs[i]] = append(rec.fields[pairs[i]], pairs[i+1])
	}
	return rec
}

type dcElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type dcDocument struct {
	XMLName  xml.Name `xml:"oai_dc:dc"`
	OAI      string   `xml:"xmlns:oai_dc,attr"`
	DC       string   `xml:"xmlns:dc,attr"`
	Elements []dcElement
}

// Marshal renders the record as an oai_dc document.
func (r DCRecord) Marshal() ([]byte, error) {
	doc := dcDocument{
		OAI: "http://www.openarchives.org/OAI/2.0/oai_dc/",
		DC:  DCNamespace,
	}
	r.Each(func(element, value string) {
		doc.Elements = append(doc.Elements, dcElement{XMLName: xml.Name{Local: "dc:" + element}, Value: value})
	})
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal DC: %w", err)
	}
	return out, nil
}
