package catalog

// Page is one slice of a product list plus the metadata the grid needs.
type Page struct {
	Items      []Product
	Number     int
	PerPage    int
	TotalItems int
	TotalPages int
}

// Paginate slices items for 1-based page numbers. Out-of-range pages yield an
// empty slice with the metadata intact.
func Paginate(items []Product, page, perPage int) Page {
	if perPage <= 0 {
		perPage = 12
	}
	if page <= 0 {
		page = 1
	}
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start >= total {
		return Page{Items: []Product{}, Number: page, PerPage: perPage, TotalItems: total, TotalPages: totalPages}
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return Page{
		Items:      items[start:end],
		Number:     page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}
}

// DiscountLabel renders the badge text for a discounted product, e.g. "-20%".
// Products without an active discount get no label.
func DiscountLabel(p Product) string {
	if !p.HasDiscount || p.DiscountPercent.IsZero() {
		return ""
	}
	return "-" + p.DiscountPercent.Round(0).String() + "%"
}
