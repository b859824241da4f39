package service

// Page is one slice of a bounded result set.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Pages int `json:"pages"`
}

// Paginate returns items[(page-1)*size : page*size]. A page past the end is
// empty, not an error. Pages is ceil(len(items)/size).
func Paginate[T any](items []T, page, size int) Page[T] {
	p := Page[T]{Items: []T{}, Total: len(items), Page: page, Size: size}
	if size <= 0 || page <= 0 {
		return p
	}
	p.Pages = (len(items) + size - 1) / size

	start := (page - 1) * size
	if start >= len(items) {
		return p
	}
	end := min(start+size, len(items))
	p.Items = items[start:end]
	return p
}
