package cel

import (
	"github.com/ezachrisen/ruleswp/facts"
	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// xpathFunction declares xpath(xml, path), returning the text of the first
// element matching the path in the XML document, or the value of the
// attribute when the path ends in /@name. It returns "" when nothing matches.
//
//	xpath(doc.xml, "/doc/total") == "108"
func xpathFunction() celgo.EnvOption {
	return celgo.Function("xpath",
		celgo.Overload("xpath_string_string", []*celgo.Type{celgo.StringType, celgo.StringType}, celgo.StringType,
			celgo.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				xml, ok := lhs.(types.String)
				if !ok {
					return types.MaybeNoSuchOverloadErr(lhs)
				}
				path, ok := rhs.(types.String)
				if !ok {
					return types.MaybeNoSuchOverloadErr(rhs)
				}
				s, err := facts.XPath(string(xml), string(path))
				if err != nil {
					return types.NewErr("xpath %q: %v", string(path), err)
				}
				return types.String(s)
			}),
		),
	)
}
