package oid

import "github.com/andrewpi/gitgres/pkg/dbsession"

// TreeEntry is one parsed record from a tree object's binary body:
// <ascii-octal-mode> SP <name> NUL <20-byte-oid>.
type TreeEntry struct {
	Mode string
	Name string
	OID  OID
}

// ParseTreeEntries decodes a tree object's raw content into its
// sequence of entries. There is no explicit count in the wire format;
// parsing proceeds until the buffer is exhausted. A truncated trailer
// (missing separator, missing NUL, or fewer than Size bytes remaining
// for the OID) is a corruption error.
func ParseTreeEntries(content []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	pos := 0
	n := len(content)

	for pos < n {
		spacePos := pos
		for spacePos < n && content[spacePos] != ' ' {
			spacePos++
		}
		if spacePos >= n {
			return nil, dbsession.Corruption.New("malformed tree entry: no space found")
		}

		nullPos := spacePos + 1
		for nullPos < n && content[nullPos] != 0 {
			nullPos++
		}
		if nullPos >= n {
			return nil, dbsession.Corruption.New("malformed tree entry: no null terminator found")
		}

		if nullPos+1+Size > n {
			return nil, dbsession.Corruption.New("malformed tree entry: truncated OID")
		}

		mode := string(content[pos:spacePos])
		name := string(content[spacePos+1 : nullPos])
		var entryOID OID
		copy(entryOID[:], content[nullPos+1:nullPos+1+Size])

		entries = append(entries, TreeEntry{
			Mode: mode,
			Name: name,
			OID:  entryOID,
		})

		pos = nullPos + 1 + Size
	}

	return entries, nil
}
