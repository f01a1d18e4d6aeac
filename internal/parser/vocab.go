package parser

// Curated vocabularies driving the parse. These are ordinary word lists,
// not configuration: changing them changes parse semantics and the tests
// pin the behavior.

// formTokens are trailing tokens naming a physical form. Stripping them
// from the tail of a name leaves the base term.
var formTokens = map[string]bool{
	"oil":         true,
	"powder":      true,
	"extract":     true,
	"butter":      true,
	"wax":         true,
	"resin":       true,
	"oleoresin":   true,
	"juice":       true,
	"water":       true,
	"hydrosol":    true,
	"gel":         true,
	"paste":       true,
	"puree":       true,
	"concentrate": true,
	"isolate":     true,
	"absolute":    true,
	"tincture":    true,
	"distillate":  true,
	"syrup":       true,
	"flakes":      true,
	"granules":    true,
	"crystals":    true,
}

// plantPartTokens are botanical part names. After a form token is
// stripped, one trailing part token is stripped as well and kept as a
// lineage tag.
var plantPartTokens = map[string]bool{
	"seed":    true,
	"seeds":   true,
	"leaf":    true,
	"leaves":  true,
	"root":    true,
	"bark":    true,
	"flower":  true,
	"flowers": true,
	"fruit":   true,
	"peel":    true,
	"rind":    true,
	"kernel":  true,
	"stem":    true,
	"bulb":    true,
	"rhizome": true,
	"berry":   true,
	"pod":     true,
	"husk":    true,
	"shell":   true,
	"germ":    true,
	"bran":    true,
	"wood":    true,
	"needle":  true,
}

// keepSuffixes end terms that are retained whole: "rice flour" is an
// ingredient in its own right, not rice in flour form.
var keepSuffixes = map[string]bool{
	"flour":   true,
	"vinegar": true,
	"meal":    true,
}

// binomialDenylist holds lowercase first tokens that look like a genus
// but are chemical modifiers or ionic prefixes, never botanical names.
var binomialDenylist = map[string]bool{
	"sodium":       true,
	"potassium":    true,
	"calcium":      true,
	"magnesium":    true,
	"zinc":         true,
	"ammonium":     true,
	"disodium":     true,
	"trisodium":    true,
	"tetrasodium":  true,
	"ferric":       true,
	"ferrous":      true,
	"titanium":     true,
	"cetyl":        true,
	"stearyl":      true,
	"lauryl":       true,
	"cetearyl":     true,
	"glyceryl":     true,
	"ethyl":        true,
	"methyl":       true,
	"propyl":       true,
	"butyl":        true,
	"isopropyl":    true,
	"hydrolyzed":   true,
	"hydrogenated": true,
	"caprylic":     true,
	"behenyl":      true,
	// Common English adjectives that precede ingredient nouns and would
	// otherwise read as a genus.
	"green":  true,
	"white":  true,
	"black":  true,
	"red":    true,
	"blue":   true,
	"golden": true,
	"sweet":  true,
	"bitter": true,
	"wild":   true,
	"whole":  true,
}

// chemicalNouns are chemistry vocabulary tokens that disqualify a
// two-word name from reading as a botanical binomial. Many carry Latin
// endings ("cellulose acetate") and would otherwise pass the epithet
// check.
var chemicalNouns = map[string]bool{
	"cellulose": true,
	"acetate":   true,
	"nitrate":   true,
	"sulfate":   true,
	"sulphate":  true,
	"chloride":  true,
	"fluoride":  true,
	"citrate":   true,
	"stearate":  true,
	"palmitate": true,
	"oleate":    true,
	"benzoate":  true,
	"sorbate":   true,
	"gluconate": true,
	"glucoside": true,
	"lactate":   true,
	"oxide":     true,
	"dioxide":   true,
	"hydroxide": true,
	"peroxide":  true,
	"starch":    true,
	"dextrin":   true,
	"glycerin":  true,
	"glycerine": true,
	"glucose":   true,
	"fructose":  true,
	"sucrose":   true,
	"lactose":   true,
	"alcohol":   true,
	"acid":      true,
	"ester":     true,
	"polymer":   true,
	"silica":    true,
	"silicate":  true,
	"paraffin":  true,
	"collagen":  true,
	"keratin":   true,
	"elastin":   true,
	"peptide":   true,
	"protein":   true,
	"ceramide":  true,
}

// chemicalAffixes mark polymer/chain naming. A name containing one is
// kept verbatim; no suffix stripping is attempted.
var chemicalAffixes = []string{
	"peg-",
	"ppg-",
	"poly",
	"copolymer",
	"crosspolymer",
	"methicone",
	"siloxane",
	"acrylate",
	"acrylamide",
	"carbomer",
	"paraben",
}

// variationPhrases are processing-style qualifiers extracted into the
// variation field, longest phrases first so multi-token phrases win.
var variationPhrases = []string{
	"extra virgin",
	"cold pressed",
	"expeller pressed",
	"steam distilled",
	"freeze dried",
	"virgin",
	"organic",
	"refined",
	"unrefined",
	"raw",
	"roasted",
	"toasted",
	"deodorized",
	"bleached",
	"wildcrafted",
	"decolorized",
}

// parentheticalNoise marks parenthetical content that is not a common
// name (blend notation, grades, codes).
var parentheticalNoise = []string{
	"and",
	"/",
	"blend",
	"mix",
	"grade",
	"type",
	"cas",
	"usp",
	"inci",
}

// commonNameExceptions rewrites a parenthetical common name when the
// surrounding context names a specific part. "Beta vulgaris (Beet) root"
// is beetroot, not beet.
var commonNameExceptions = map[string]string{
	"beet|root":     "Beetroot",
	"ginger|root":   "Ginger",
	"licorice|root": "Licorice root",
}

// Lineage marker sets, checked in order. The first set with a hit wins.

var syntheticMarkers = []string{
	"synthetic",
	"peg",
	"ppg",
	"polysorbate",
	"edta",
	"bha",
	"bht",
	"silicone",
	"dimethicone",
	"petrolatum",
	"paraffin",
	"nylon",
	"acetate",
}

var fermentationMarkers = []string{
	"ferment",
	"yeast",
	"lactobacillus",
	"saccharomyces",
	"aspergillus",
	"bacillus",
	"koji",
	"kombucha",
	"kefir",
	"xanthan",
}

var marineMarkers = []string{
	"algae",
	"alga",
	"kelp",
	"seaweed",
	"spirulina",
	"chlorella",
	"plankton",
	"marine",
	"fish",
	"krill",
	"laminaria",
	"fucus",
	"ulva",
	"ascophyllum",
	"chondrus",
}

var mineralMarkers = []string{
	"clay",
	"kaolin",
	"bentonite",
	"mica",
	"silica",
	"zeolite",
	"charcoal",
	"talc",
	"pumice",
	"oxide",
	"carbonate",
	"sulfate",
	"chloride",
	"sea salt",
	"mineral",
}

var animalMarkers = []string{
	"milk",
	"honey",
	"beeswax",
	"lanolin",
	"tallow",
	"collagen",
	"keratin",
	"silk",
	"egg",
	"gelatin",
	"carmine",
	"snail",
	"goat",
	"donkey",
}
