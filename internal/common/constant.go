package common

// RecordTokenHeaderName is the HTTP header carrying the record capability
// token issued at upload.
const RecordTokenHeaderName = "X-Record-Token"

// RecordIDMetadataKey is the checkout session metadata key that binds a
// session to the PhotoRecord it pays for.
const RecordIDMetadataKey = "record_id"
