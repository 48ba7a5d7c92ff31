package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"实体", "أحمد &amp; سارة &quot;هنا&quot;", `أحمد & سارة "هنا"`},
		{"数字实体", "&#1605;&#x647;&#1575;", "مها"},
		{"非法实体保留", "a &zzqq; b &", "a &zzqq; b &"},
		{"换行转义", `مها: لا\n\nسامي: نعم`, "مها: لا\n\nسامي: نعم"},
		{"制表与回车", `a\tb\rc`, "a\tb\rc"},
		{"引号", `\"قال\" \'نعم\'`, `"قال" 'نعم'`},
		{"双反斜杠最后处理", `a\\b`, `a\b`},
		// `\\n` 先被第一步消费为 `\` + 换行
		{"反斜杠后接n", `x\\ny`, "x\\\ny"},
		{"实体先于转义", `&#92;n`, "\n"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, 预期 %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotentOnPlainText(t *testing.T) {
	plain := []string{
		"",
		"مها: لا أدري ماذا سيحدث، ولا أستطيع أن أتنبأ.\n\nسامي: لا تقلقي سيكون الأمر بخير.",
		"##########\nفصل أول\n\nنص",
		"plain ascii: no escapes here!",
	}
	for _, s := range plain {
		once := Normalize(s)
		if once != s {
			t.Fatalf("已规范化文本被修改: %q -> %q", s, once)
		}
		if twice := Normalize(once); twice != once {
			t.Fatalf("非幂等: %q -> %q", once, twice)
		}
	}
}
