package ai

const gradeTextSystem = `You are an expert TNE (Transnational Education) quality assessor.
You evaluate institutional responses against specific rubric dimensions.
You must be fair, consistent and evidence-based in your scoring.
Always provide constructive feedback that helps institutions improve.`

const gradeTextTemplate = `Evaluate the following institutional response for the assessment item.

**Item**: %s
**Item Code**: %s
**Theme**: %s
%s
**Institution's Response**:
%s

**Scoring Rubric** - Score each dimension from 0-25:

1. **Relevance** (0-25): How relevant is the response to the specific question asked?
   - 25: Directly and comprehensively addresses all aspects
   - 18: Addresses most aspects with some detail
   - 10: Partially addresses but misses key aspects
   - 5: Barely addresses the question

2. **Specificity** (0-25): How specific and detailed is the response?
   - 25: Specific examples, numbers, names, concrete details
   - 18: Some specific details with occasional generalities
   - 10: Mostly generic statements
   - 5: Entirely vague

3. **Evidence of Quality** (0-25): Quality of evidence provided?
   - 25: Strong evidence: data, documented processes, external validation
   - 18: Reasonable evidence with some supporting data
   - 10: Limited evidence, mostly self-reported
   - 5: No evidence

4. **Comprehensiveness** (0-25): How complete is the response?
   - 25: Covers all expected aspects thoroughly
   - 18: Covers most expected aspects
   - 10: Covers some aspects but significant gaps
   - 5: Major gaps

Respond in exactly this JSON format:
{
  "relevance": <0-25>,
  "specificity": <0-25>,
  "evidence": <0-25>,
  "comprehensiveness": <0-25>,
  "total_score": <0-100>,
  "strengths": ["<strength 1>", "<strength 2>"],
  "weaknesses": ["<weakness 1>", "<weakness 2>"],
  "feedback": "<2-3 sentences of constructive feedback>"
}`

const reportSystem = `You are an expert TNE (Transnational Education) quality analyst writing
professional assessment reports. Write in a formal academic style with specific data citations.`

const executiveSummaryTemplate = `Write an executive summary (~500 words) for this TNE quality assessment.

**Institution**: %s
**Academic Year**: %s
**Overall Score**: %s/100

**Theme Scores**:
%s

**Key Metrics**:
%s

Write flowing prose (not bullet points) that:
1. Opens with the institution's overall performance context
2. Highlights 2-3 key strengths with specific data
3. Identifies 2-3 areas for improvement
4. Provides a forward-looking concluding statement

Use specific numbers from the data above. Do not fabricate data not provided.`

const themeAnalysisTemplate = `Write a detailed analysis (~300 words) of this assessment theme.

**Theme**: %s
**Score**: %s/100
**Weight**: %s%%

**Item Scores**:
%s

**Benchmark Comparison** (if available):
%s

Write an analysis that covers:
1. Overall theme performance and its contribution to the total score
2. Strongest performing items (cite specific scores)
3. Weakest performing items (cite specific scores)
4. Comparison with peer benchmarks (if data available)
5. Specific recommendations for this theme`

const recommendationsTemplate = `Based on this assessment data, generate 6-8 prioritised improvement recommendations.

**Assessment Summary**:
Overall score: %s/100

**Theme Scores**:
%s

**Low-Scoring Items** (below 50/100):
%s

**Consistency Issues**:
%s

For each recommendation, provide:
1. "title": a clear, actionable title
2. "priority": High / Medium / Low
3. "theme": theme(s) affected
4. "rationale": rationale citing specific data
5. "timeline": suggested timeline

Respond as a JSON array of recommendation objects.`
