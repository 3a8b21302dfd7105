package brick

// Merge applies child as a patch over parent and returns the result.
//
//   - Scalars (description, run) are replaced when the child sets them.
//   - Inputs and outputs are replaced wholesale when the child declares them.
//   - Parts are merged by name: a child part replaces the parent's part of
//     the same name in place, new parts are appended in declaration order.
//   - Config maps are merged, child keys win.
//   - Cache is replaced when the child sets it.
//
// The result carries the child's name and no Inherits.
func Merge(parent, child *Template) Template {
	result := *parent.clone()
	result.Name = child.Name
	result.Inherits = ""

	if child.Description != "" {
		result.Description = child.Description
	}
	if child.Run != "" {
		result.Run = child.Run
	}
	if child.Inputs != nil {
		result.Inputs = cloneSlots(child.Inputs)
	}
	if child.Outputs != nil {
		result.Outputs = cloneSlots(child.Outputs)
	}
	result.Parts = mergeParts(result.Parts, child.Parts)
	result.Config = mergeConfig(result.Config, child.Config)
	if child.Cache != nil {
		c := *child.Cache
		result.Cache = &c
	}
	return result
}

func mergeParts(parent, child []PartDecl) []PartDecl {
	if len(child) == 0 {
		return parent
	}
	result := make([]PartDecl, 0, len(parent)+len(child))
	index := make(map[string]int, len(parent))
	for _, p := range parent {
		index[p.Name] = len(result)
		result = append(result, p)
	}
	for _, p := range child {
		if i, ok := index[p.Name]; ok {
			result[i] = p.clone()
			continue
		}
		index[p.Name] = len(result)
		result = append(result, p.clone())
	}
	return result
}

func mergeConfig(parent, child map[string]any) map[string]any {
	if len(parent) == 0 && len(child) == 0 {
		return nil
	}
	result := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		result[k] = v
	}
	for k, v := range child {
		result[k] = v
	}
	return result
}
