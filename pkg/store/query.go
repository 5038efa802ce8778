package store

// Query builders for the devices index. Kept as pure functions so the
// request bodies can be tested without a live node.

// deviceSearchFields are the identity/text fields a free-text query
// matches against. The ip field is not text; lenient mode makes the
// engine skip it for terms it cannot parse instead of failing the query.
var deviceSearchFields = []string{
	"ip", "hostname", "service", "vendor", "model", "firmware", "banner",
}

// matchAllQuery lists every document, newest first.
func matchAllQuery(size int) map[string]interface{} {
	return map[string]interface{}{
		"size":             size,
		"track_total_hits": true,
		"sort": []map[string]interface{}{
			{"first_seen": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"match_all": map[string]interface{}{},
		},
	}
}

// fuzzyQuery matches q across the device fields with AUTO fuzziness:
// short terms must match exactly, longer terms tolerate one or two
// edits. Vulnerability sub-records need their own nested clause, a plain
// multi_match never descends into a nested mapping.
func fuzzyQuery(q string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size":             size,
		"track_total_hits": true,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"minimum_should_match": 1,
				"should": []map[string]interface{}{
					{
						"multi_match": map[string]interface{}{
							"query":     q,
							"fields":    deviceSearchFields,
							"fuzziness": "AUTO",
							"lenient":   true,
						},
					},
					{
						"nested": map[string]interface{}{
							"path": "vulnerabilities",
							"query": map[string]interface{}{
								"multi_match": map[string]interface{}{
									"query":     q,
									"fields":    []string{"vulnerabilities.id", "vulnerabilities.description"},
									"fuzziness": "AUTO",
									"lenient":   true,
								},
							},
						},
					},
				},
			},
		},
	}
}

// vulnerableFilter selects documents with at least one vulnerability
// record via a structural existence check on the nested field.
func vulnerableFilter() map[string]interface{} {
	return map[string]interface{}{
		"nested": map[string]interface{}{
			"path": "vulnerabilities",
			"query": map[string]interface{}{
				"exists": map[string]interface{}{
					"field": "vulnerabilities.id",
				},
			},
		},
	}
}

func vulnerableQuery(size int) map[string]interface{} {
	return map[string]interface{}{
		"size":             size,
		"track_total_hits": true,
		"query":            vulnerableFilter(),
	}
}

// cveProductQuery fuzzy-matches a token against cve_map products.
func cveProductQuery(token string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"product": map[string]interface{}{
					"query":     token,
					"fuzziness": "AUTO",
				},
			},
		},
	}
}
