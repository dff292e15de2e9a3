package notion

import "fmt"

// ParsePageProperties flattens a Notion page object into native values,
// keyed by property name plus the page-level "id" and "url". Unknown
// property types pass through raw.
func ParsePageProperties(page map[string]any) map[string]any {
	result := map[string]any{
		"id":  str(page["id"]),
		"url": str(page["url"]),
	}

	props, _ := page["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			result[name] = raw
			continue
		}
		propType := str(prop["type"])
		result[name] = extractValue(propType, prop)
	}
	return result
}

func extractValue(propType string, prop map[string]any) any {
	switch propType {
	case "title":
		return richTextPlain(prop["title"])
	case "rich_text":
		return richTextPlain(prop["rich_text"])
	case "number":
		return prop["number"]
	case "select":
		if sel, ok := prop["select"].(map[string]any); ok {
			return str(sel["name"])
		}
		return ""
	case "multi_select":
		var names []string
		if items, ok := prop["multi_select"].([]any); ok {
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					names = append(names, str(m["name"]))
				}
			}
		}
		return names
	case "date":
		out := map[string]string{"start": "", "end": ""}
		if d, ok := prop["date"].(map[string]any); ok {
			out["start"] = str(d["start"])
			out["end"] = str(d["end"])
		}
		return out
	case "checkbox":
		checked, _ := prop["checkbox"].(bool)
		return checked
	case "url":
		return str(prop["url"])
	case "email":
		return str(prop["email"])
	case "phone_number":
		return str(prop["phone_number"])
	case "relation":
		var ids []string
		if rels, ok := prop["relation"].([]any); ok {
			for _, rel := range rels {
				if m, ok := rel.(map[string]any); ok {
					ids = append(ids, str(m["id"]))
				}
			}
		}
		return ids
	case "formula":
		if f, ok := prop["formula"].(map[string]any); ok {
			return f[str(f["type"])]
		}
		return nil
	case "rollup":
		if r, ok := prop["rollup"].(map[string]any); ok {
			rollupType := str(r["type"])
			if rollupType == "array" {
				if arr, ok := r["array"].([]any); ok {
					return arr
				}
				return []any{}
			}
			return r[rollupType]
		}
		return nil
	case "status":
		if s, ok := prop["status"].(map[string]any); ok {
			return str(s["name"])
		}
		return ""
	case "people":
		var names []string
		if people, ok := prop["people"].([]any); ok {
			for _, p := range people {
				if m, ok := p.(map[string]any); ok {
					name := str(m["name"])
					if name == "" {
						name = str(m["id"])
					}
					names = append(names, name)
				}
			}
		}
		return names
	case "files":
		var files []map[string]string
		if items, ok := prop["files"].([]any); ok {
			for _, item := range items {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				data, ok := m["file"].(map[string]any)
				if !ok {
					data, ok = m["external"].(map[string]any)
				}
				if !ok {
					continue
				}
				files = append(files, map[string]string{
					"name": str(m["name"]),
					"url":  str(data["url"]),
				})
			}
		}
		return files
	case "created_time":
		return str(prop["created_time"])
	case "last_edited_time":
		return str(prop["last_edited_time"])
	case "created_by":
		if m, ok := prop["created_by"].(map[string]any); ok {
			return str(m["id"])
		}
		return ""
	case "last_edited_by":
		if m, ok := prop["last_edited_by"].(map[string]any); ok {
			return str(m["id"])
		}
		return ""
	case "unique_id":
		if uid, ok := prop["unique_id"].(map[string]any); ok {
			prefix := str(uid["prefix"])
			number := uid["number"]
			if prefix != "" {
				return fmt.Sprintf("%s-%v", prefix, number)
			}
			return fmt.Sprintf("%v", number)
		}
		return ""
	default:
		// Unknown property types degrade to raw pass-through.
		return prop[propType]
	}
}

func richTextPlain(raw any) string {
	arr, ok := raw.([]any)
	if !ok {
		return ""
	}
	var out string
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out += str(m["plain_text"])
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Property builders for the write direction.

func TitleProp(content string) map[string]any {
	return map[string]any{"title": []any{
		map[string]any{"text": map[string]any{"content": content}},
	}}
}

func RichTextProp(content string) map[string]any {
	return map[string]any{"rich_text": []any{
		map[string]any{"text": map[string]any{"content": content}},
	}}
}

func DateProp(start string) map[string]any {
	return map[string]any{"date": map[string]any{"start": start}}
}

func CheckboxProp(checked bool) map[string]any {
	return map[string]any{"checkbox": checked}
}

func SelectProp(name string) map[string]any {
	return map[string]any{"select": map[string]any{"name": name}}
}

func NumberProp(n float64) map[string]any {
	return map[string]any{"number": n}
}

func RelationProp(ids ...string) map[string]any {
	rels := make([]any, 0, len(ids))
	for _, id := range ids {
		rels = append(rels, map[string]any{"id": id})
	}
	return map[string]any{"relation": rels}
}
