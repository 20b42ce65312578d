package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// User-facing error messages. Each is also a catalog key.
const (
	msgUnauthorized     = "missing user context"
	msgInvalidPayload   = "invalid payload"
	msgInternal         = "something went wrong, please try again"
	msgJobNotFound      = "job not found"
	msgAssetNotFound    = "asset not found"
	msgAlreadyPromoted  = "asset already saved to library"
	msgInvalidJobType   = "unsupported job type"
	msgWorkerDown       = "generation service is unavailable, please try again later"
	msgUnknownAction    = "unsupported workspace action"
	msgStreamingBlocked = "streaming unsupported"
	msgInvalidCallback  = "invalid callback"
	msgCallbackScope    = "token does not cover this job"
	msgForbiddenFile    = "link expired or invalid"
)

func init() {
	id := map[string]string{
		msgUnauthorized:    "konteks pengguna tidak ditemukan",
		msgInvalidPayload:  "format permintaan tidak valid",
		msgInternal:        "terjadi kesalahan, silakan coba lagi",
		msgJobNotFound:     "pekerjaan tidak ditemukan",
		msgAssetNotFound:   "aset tidak ditemukan",
		msgAlreadyPromoted: "aset sudah disimpan ke pustaka",
		msgInvalidJobType:  "jenis pekerjaan tidak didukung",
		msgWorkerDown:      "layanan generasi sedang tidak tersedia, silakan coba lagi nanti",
		msgUnknownAction:   "aksi workspace tidak didukung",
		msgForbiddenFile:   "tautan kedaluwarsa atau tidak valid",
	}
	for key, text := range id {
		_ = message.SetString(language.Indonesian, key, text)
	}
}
