// Package domain contains the core concepts of the svg2pdf render pipeline:
// the browser and page contracts, measured sizes and the error taxonomy.
// Keep this package free of transport (HTTP) and infrastructure (Chrome/Redis) concerns.
package domain
