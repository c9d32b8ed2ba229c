// Package dirindex annotates rendered directory listing pages with local cache
// presence. A page embeds the ordered list of entry paths and carries one
// placeholder node per entry; Annotate probes every path against a cache-local
// endpoint and swaps the matching placeholder for an attention glyph when the
// probe answers 404. The package also renders such listing pages so the proxy
// and tests share one producer of the embedded data and DOM contracts.
package dirindex
