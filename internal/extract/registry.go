package extract

// DefaultRegistry registers an adapter for every supported document kind.
// pdf may be nil, in which case PDFs are rejected as unsupported.
func DefaultRegistry(opts Options, pdf PDFTextExtractor) *Registry {
	opts = opts.withDefaults()
	r := NewRegistry(opts.Logger)
	r.Register(NewTextAdapter(opts))
	r.Register(NewHTMLAdapter(opts))
	r.Register(NewSpreadsheetAdapter(opts))
	r.Register(NewWordAdapter(opts))
	if pdf != nil {
		r.Register(NewPDFAdapter(pdf, opts))
	}
	return r
}
