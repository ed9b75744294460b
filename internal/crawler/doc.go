// Package crawler runs work orders against dealer websites. Engine drives the generic
// frontier crawl: root validation, robots.txt, revisiting known listings, sitemap and
// root seeding, a bounded worker pool over the frontier, and the abort heuristics that
// end unproductive or hostile crawls.
package crawler
