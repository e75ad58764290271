package humastar

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// LinkIndex holds RFC 8288 Link header values keyed by operation path.
type LinkIndex struct {
	links map[string][]string
}

// Build walks the registered OpenAPI paths and derives navigation links,
// replacing the index contents. Operations tagged with one of skipTags (SSE
// endpoints) are left out. Call after all routes are registered; the
// transformer may be registered on the API config before Build runs.
func (x *LinkIndex) Build(api huma.API, skipTags ...string) {
	oapi := api.OpenAPI()
	x.links = map[string][]string{}

	var collections, items []string
	for p, pi := range oapi.Paths {
		if slices.ContainsFunc(primaryTags(pi), func(t string) bool { return slices.Contains(skipTags, t) }) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	sort.Strings(collections)
	sort.Strings(items)

	for _, item := range items {
		if strings.HasSuffix(item, "}") {
			parent := path.Dir(item)
			if _, ok := oapi.Paths[parent]; ok {
				x.add(item, parent, "collection")
				x.add(parent, item, "item")
			}
			continue
		}
		// sub-resources like /sessions/{id}/refresh point up to their owner
		if owner := ownerPath(item); owner != "" {
			if _, ok := oapi.Paths[owner]; ok {
				x.add(item, owner, "up")
			}
		}
	}

	// entry point
	for _, coll := range collections {
		if coll == "/health" {
			continue
		}
		x.add(coll, "/health", "up")
		x.add("/health", coll, lastSegment(coll))
	}
	x.add("/health", "/openapi.json", "describedby")
	x.add("/health", "/openapi.json", "service-desc")
	x.add("/health", "/docs", "service-doc")

	for _, p := range append(collections, items...) {
		if ref := responseSchemaRef(oapi.Paths[p]); ref != "" {
			x.add(p, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}

	// document the same relations in the OpenAPI document
	for p, pi := range oapi.Paths {
		headers, ok := x.links[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
}

// For returns the Link header values of an operation path.
func (x *LinkIndex) For(p string) []string {
	if x == nil {
		return nil
	}
	return x.links[p]
}

// Transformer returns a Huma Transformer that writes the Link headers at
// runtime, plus self, pagination and action links from the response body.
func (x *LinkIndex) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range x.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (x *LinkIndex) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(x.links[from], val) {
		x.links[from] = append(x.links[from], val)
	}
}

// ownerPath trims a path back to its last {param} segment.
func ownerPath(p string) string {
	i := strings.LastIndex(p, "}")
	if i < 0 {
		return ""
	}
	return p[:i+1]
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

func injectResponseLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLinkHeader splits `<url>; rel="name"`.
func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if strings.HasPrefix(params, `rel="`) {
		rel, _, _ = strings.Cut(strings.TrimPrefix(params, `rel="`), `"`)
	}
	return rel, href
}
