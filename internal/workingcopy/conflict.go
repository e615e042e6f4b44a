package workingcopy

import (
	"bytes"
	"strconv"

	"strand/internal/diff"
	"strand/internal/merge"
	"strand/internal/object"
)

const (
	markerStart = "<<<<<<< Conflict 1 of 1\n"
	markerDiff  = "%%%%%%% "
	markerSide  = "+++++++ "
	markerEnd   = ">>>>>>> Conflict 1 of 1 ends\n"
)

// Materialize renders a conflict as a file with markers. Each base/side
// pair but the last side is shown as a diff; the last side is shown in
// full. ok is false when a term is a directory.
func Materialize(b *object.Backend, m merge.Merge[object.Value]) ([]byte, bool, error) {
	for _, v := range m.Values() {
		if v.IsTree() {
			return nil, false, nil
		}
	}
	read := func(v object.Value) ([]byte, error) {
		if v.IsAbsent() {
			return nil, nil
		}
		return b.ReadFile(v.ID)
	}
	var removes, adds [][]byte
	for _, v := range m.Removes() {
		data, err := read(v)
		if err != nil {
			return nil, false, err
		}
		removes = append(removes, data)
	}
	for _, v := range m.Adds() {
		data, err := read(v)
		if err != nil {
			return nil, false, err
		}
		adds = append(adds, data)
	}
	return renderConflict(removes, adds), true, nil
}

func renderConflict(removes, adds [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(markerStart)
	for i, base := range removes {
		side := strconv.Itoa(i + 1)
		if len(removes) == 1 {
			buf.WriteString(markerDiff + "Changes from base to side #" + side + "\n")
		} else {
			buf.WriteString(markerDiff + "Changes from base #" + side + " to side #" + side + "\n")
		}
		for _, l := range diff.Lines(base, adds[i]) {
			buf.WriteString(l.Prefix())
			buf.WriteString(l.Content)
			buf.WriteString("\n")
		}
	}
	buf.WriteString(markerSide + "Contents of side #" + strconv.Itoa(len(adds)) + "\n")
	last := adds[len(adds)-1]
	buf.Write(last)
	if len(last) > 0 && last[len(last)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(markerEnd)
	return buf.Bytes()
}
