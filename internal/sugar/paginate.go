package sugar

// page is a validated limit/offset pair.
type page struct {
	limit  int
	offset int
}

func (s *Sugar) newPage(limit, offset int) (page, error) {
	if limit < 0 {
		return page{}, invalidArgument("limit must be >= 0, got %d", limit)
	}
	if offset < 0 {
		return page{}, invalidArgument("offset must be >= 0, got %d", offset)
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return page{limit: limit, offset: offset}, nil
}

// window returns the half-open index range [start, end) of the page over a
// sequence of the given size. Pages past the end are empty.
func (p page) window(size int) (int, int) {
	if size <= 0 || p.offset >= size || p.limit == 0 {
		return 0, 0
	}
	end := size
	if remaining := size - p.offset; p.limit < remaining {
		end = p.offset + p.limit
	}
	return p.offset, end
}
