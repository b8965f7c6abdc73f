package axmlparser

// ResourceMap maps string pool indices of attribute names to resource ids.
type ResourceMap struct {
	Header      ChunkHeader
	ResourceIds []uint32
}

func readResourceMap(c *cursor) (*ResourceMap, error) {
	h, err := readChunkHeader(c, ChunkResourceIds)
	if err != nil {
		return nil, err
	}

	// Size counts the 8 byte header, the rest is the id array.
	m := &ResourceMap{
		Header:      h,
		ResourceIds: make([]uint32, h.Size/4-2),
	}

	if err := c.readStruct(m.ResourceIds); err != nil {
		return nil, err
	}

	if err := c.seek(h.end()); err != nil {
		return nil, err
	}
	return m, nil
}

// Id returns the resource id recorded for the string at idx.
func (m *ResourceMap) Id(idx uint32) (uint32, bool) {
	if m == nil || idx >= uint32(len(m.ResourceIds)) {
		return 0, false
	}
	return m.ResourceIds[idx], true
}
