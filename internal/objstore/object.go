package objstore

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/fsidx/internal/fserr"
)

// DCDatastream is the ID of the Dublin Core descriptor datastream.
const DCDatastream = "DC"

// ControlInline marks a datastream whose content is inline XML.
const ControlInline = "X"

// ErrNotFound is returned when the store has no object with the given pid.
var ErrNotFound = errors.New("object not found")

// Store reads canonical objects.
type Store interface {
	// Object returns the object with the given pid, or an error wrapping
	// ErrNotFound.
	Object(ctx context.Context, pid string) (*Object, error)
}

// Object is a canonical repository object.
type Object struct {
	XMLName     xml.Name     `xml:"object"`
	PID         string       `xml:"pid,attr"`
	Label       string       `xml:"label,attr,omitempty"`
	State       string       `xml:"state,attr,omitempty"`
	OwnerID     string       `xml:"ownerId,attr,omitempty"`
	Created     string       `xml:"cDate,attr,omitempty"`
	Modified    string       `xml:"mDate,attr,omitempty"`
	Datastreams []Datastream `xml:"datastream"`
}

// Datastream is one content stream of an object.
type Datastream struct {
	ID      string `xml:"id,attr"`
	Control string `xml:"control,attr"`
	// Ref locates non-inline content.
	Ref     string `xml:"ref,attr,omitempty"`
	Content []byte `xml:",innerxml"`
}

// Inline reports whether the datastream's content is inline XML.
func (d Datastream) Inline() bool { return d.Control == ControlInline }

// Datastream returns the datastream with the given id.
func (o *Object) Datastream(id string) (Datastream, bool) {
	for _, ds := range o.Datastreams {
		if ds.ID == id {
			return ds, true
		}
	}
	return Datastream{}, false
}

// Decode reads an object document.
func Decode(r io.Reader) (*Object, error) {
	var obj Object
	if err := xml.NewDecoder(r).Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if obj.PID == "" {
		return nil, fmt.Errorf("decode object: missing pid attribute")
	}
	return &obj, nil
}

// Encode renders obj as an indented object document.
func Encode(obj *Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("encode object %s: %w", obj.PID, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// CanonicalObjectID returns the pid declared by the object document in r.
func CanonicalObjectID(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("read object pid: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "object" {
			return "", fmt.Errorf("read object pid: root element is %q, not object", start.Name.Local)
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "pid" && attr.Value != "" {
				return attr.Value, nil
			}
		}
		return "", fmt.Errorf("read object pid: missing pid attribute")
	}
}

// IdentifierDescriptor returns the raw inline DC descriptor of pid. ok is
// false when the object has no DC datastream. A DC datastream that is
// not inline XML is an integrity error.
func IdentifierDescriptor(ctx context.Context, s Store, pid string) (content []byte, ok bool, err error) {
	obj, err := s.Object(ctx, pid)
	if err != nil {
		return nil, false, err
	}
	return descriptorOf(obj)
}

func descriptorOf(obj *Object) ([]byte, bool, error) {
	ds, ok := obj.Datastream(DCDatastream)
	if !ok {
		return nil, false, nil
	}
	if !ds.Inline() {
		return nil, false, fserr.Integrity("read descriptor", obj.PID,
			fmt.Sprintf("object %s has a DC datastream, but it's not inline XML", obj.PID))
	}
	return ds.Content, true, nil
}

// ReadDC returns the object's parsed DC record. An object without a DC
// datastream yields an empty record.
func ReadDC(obj *Object) (DCRecord, error) {
	content, ok, err := descriptorOf(obj)
	if err != nil || !ok {
		return DCRecord{}, err
	}
	return parseDescriptor(obj.PID, content)
}

func parseDescriptor(pid string, content []byte) (DCRecord, error) {
	rec, err := ParseDC(content)
	if err != nil {
		return DCRecord{}, &fserr.Error{
			Code:     fserr.CodeIntegrity,
			Op:       "read descriptor",
			ObjectID: pid,
			Message:  "malformed DC datastream",
			Err:      err,
		}
	}
	return rec, nil
}

// Identifiers reads the identifier values declared in pid's descriptor.
// An object without a DC datastream declares none.
func Identifiers(ctx context.Context, s Store, pid string) ([]string, error) {
	content, ok, err := IdentifierDescriptor(ctx, s, pid)
	if err != nil || !ok {
		return nil, err
	}
	rec, err := parseDescriptor(pid, content)
	if err != nil {
		return nil, err
	}
	return rec.Identifiers(), nil
}
