package fieldsearch

import (
	"github.com/roach88/fsidx/internal/objstore"
	"github.com/roach88/fsidx/internal/query"
)

// Object property fields. Every indexed object has a pid row; the other
// properties are stored when set.
var objectFields = []string{query.FieldPID, "label", "state", "ownerId", "cDate", "mDate"}

// Fields returns every field the engine can search and return, object
// properties first, then the Dublin Core elements.
func Fields() []string {
	out := make([]string, 0, len(objectFields)+len(objstore.DCElements))
	out = append(out, objectFields...)
	return append(out, objstore.DCElements...)
}

var knownFields = func() map[string]string {
	m := make(map[string]string)
	for _, f := range Fields() {
		m[f] = f
	}
	return m
}()

type fieldValue struct {
	field string
	value string
}

// rowsFor flattens obj into doFields rows. DC values are included only
// when indexDC is set.
func rowsFor(obj *objstore.Object, indexDC bool) ([]fieldValue, error) {
	rows := []fieldValue{{query.FieldPID, obj.PID}}
	for _, p := range []fieldValue{
		{"label", obj.Label},
		{"state", obj.State},
		{"ownerId", obj.OwnerID},
		{"cDate", obj.Created},
		{"mDate", obj.Modified},
	} {
		if p.value != "" {
			rows = append(rows, p)
		}
	}
	if !indexDC {
		return rows, nil
	}
	rec, err := objstore.ReadDC(obj)
	if err != nil {
		return nil, err
	}
	rec.Each(func(element, value string) {
		rows = append(rows, fieldValue{element, value})
	})
	return rows, nil
}
