package extract

import (
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/agnivade/levenshtein"

	"github.com/JakeFAU/dealer-gatherer/internal/dom"
)

const (
	outlierThreshold = 10.0
	outlierMinimum   = 5
	galleryAncestors = 3
)

var (
	imageAttrs       = []string{"data-src", "data-lazy-src", "data-original", "src"}
	galleryKeywords  = []string{"gallery", "photo", "carousel", "slider", "vehicle-image", "vdp-image", "hero", "main-image"}
	imageAvoidTokens = []string{"logo", "icon", "sprite", "placeholder", "badge", "spinner", "banner", "carfax"}
)

// MainImage picks the listing's primary photo. Images whose URL embeds one of ids win;
// then images inside gallery-like containers; then the page's og:image; then any image.
// Larger ambiguous sets are filtered for Levenshtein outliers first.
func MainImage(doc *goquery.Document, pageURL string, ids []string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	var all, gallery []string
	seen := make(map[string]struct{})
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src := imageSource(sel, base)
		if src == "" {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		all = append(all, src)
		if inGallery(sel) {
			gallery = append(gallery, src)
		}
	})

	for _, src := range all {
		lower := strings.ToLower(src)
		for _, id := range ids {
			if id != "" && strings.Contains(lower, strings.ToLower(id)) {
				return src, true
			}
		}
	}
	if len(gallery) > 0 {
		return filterOutliers(gallery)[0], true
	}
	if og, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		if resolved := resolveImage(og, base); resolved != "" {
			return resolved, true
		}
	}
	if len(all) > 0 {
		return filterOutliers(all)[0], true
	}
	return "", false
}

func imageSource(sel *goquery.Selection, base *url.URL) string {
	for _, attr := range imageAttrs {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return resolveImage(v, base)
		}
	}
	return ""
}

func resolveImage(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasSuffix(lower, ".svg") || strings.HasSuffix(lower, ".gif") {
		return ""
	}
	for _, tok := range imageAvoidTokens {
		if strings.Contains(lower, tok) {
			return ""
		}
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func inGallery(sel *goquery.Selection) bool {
	cur := sel
	for i := 0; i <= galleryAncestors && cur.Length() > 0; i++ {
		attrs := dom.Attrs(cur)
		for _, kw := range galleryKeywords {
			if strings.Contains(attrs, kw) {
				return true
			}
		}
		cur = cur.Parent()
	}
	return false
}

// filterOutliers drops images whose average edit distance to the rest of the set deviates
// from the set mean by more than the threshold. Small sets are returned unchanged.
func filterOutliers(images []string) []string {
	if len(images) <= outlierMinimum {
		return images
	}
	averages := make([]float64, len(images))
	var total float64
	for i, a := range images {
		var sum int
		for j, b := range images {
			if i != j {
				sum += levenshtein.ComputeDistance(a, b)
			}
		}
		averages[i] = float64(sum) / float64(len(images)-1)
		total += averages[i]
	}
	mean := total / float64(len(images))

	kept := make([]string, 0, len(images))
	for i, img := range images {
		if math.Abs(averages[i]-mean) <= outlierThreshold {
			kept = append(kept, img)
		}
	}
	if len(kept) == 0 {
		return images
	}
	return kept
}
