// Package easydl is a resumable, multi-connection HTTP/HTTPS file
// downloader. Given a remote URL and a local destination path, it
// fetches the resource, optionally splitting it into byte-range chunks
// downloaded in parallel over independent connections, persists each
// chunk to disk, resumes partially completed downloads across process
// restarts, retries transient failures with backoff, and assembles the
// chunks into a single output file.
package easydl
