// Package annotator hosts the annotation service used to give feedback on
// archived posts. Notable routes:
//   - GET /annotator?uri= lists the annotations of a document as {"rows": [...]}.
//   - POST, PUT and DELETE /annotator create, replace and remove annotations.
//   - GET /read/{student}/{post} serves an archived post.
//   - GET /annotate/{student}/{post} serves the annotation page for a post.
//   - GET /healthz and /metrics for probes and Prometheus scraping.
package annotator
