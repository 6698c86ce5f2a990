package mongo

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// primitiveRegex builds a case-insensitive substring match with the needle
// escaped, so user input never becomes a regex.
func primitiveRegex(needle string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(needle), Options: "i"}
}
